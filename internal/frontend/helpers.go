package frontend

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/api/rest"
	"github.com/cloudcustos/ruleengine/internal/database"
	"github.com/cloudcustos/ruleengine/internal/jobs"
)

var validate = api.NewValidator()

// readRequest decodes the buffered body into dst, rejecting unknown keys,
// then validates it. A false return means the error response was written.
func readRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := BodyFromContext(r.Context())
	if err != nil {
		LoggerFromContext(r.Context()).Error(err.Error())
		rest.WriteInternalServerError(w)
		return false
	}

	if err := api.DecodeStrict(body, dst); err != nil {
		rest.WriteUnmarshalError(err, w)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		rest.WriteUnmarshalError(err, w)
		return false
	}
	return true
}

// caller retrieves the identity the caller middleware installed. A false
// return means the error response was written.
func caller(w http.ResponseWriter, r *http.Request) (jobs.Caller, bool) {
	c, err := CallerFromContext(r.Context())
	if err != nil {
		LoggerFromContext(r.Context()).Error(err.Error())
		rest.WriteInternalServerError(w)
		return c, false
	}
	return c, true
}

func writeJSONResponse(w http.ResponseWriter, statusCode int, v any) {
	w.Header()["Content-Type"] = []string{"application/json"}
	w.WriteHeader(statusCode)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "    ")
	_ = encoder.Encode(v)
}

// writeServiceError maps a service error onto the wire. Database sentinel
// errors that escaped the service layer get their generic mapping here.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if restErr, ok := rest.IsError(err); ok {
		rest.WriteRESTError(w, restErr)
		return
	}
	switch {
	case errors.Is(err, database.ErrThrottled):
		rest.WriteRESTError(w, rest.NewThrottledError())
	case errors.Is(err, database.ErrNotFound):
		rest.WriteError(
			w, http.StatusNotFound,
			rest.ErrorCodeNotFound, "",
			"The requested document was not found.")
	default:
		LoggerFromContext(ctx).ErrorContext(ctx, "request failed", "error", err)
		rest.WriteInternalServerError(w)
	}
}
