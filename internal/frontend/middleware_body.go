package frontend

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"io"
	"net/http"
	"strings"

	"github.com/cloudcustos/ruleengine/internal/api/rest"
)

const megabyte int64 = (1 << 20)

// MiddlewareBody reads and caps the request body for mutating methods and
// stashes it in the request context.
func MiddlewareBody(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	switch r.Method {
	case http.MethodPatch, http.MethodPost, http.MethodPut:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4*megabyte))
		if err != nil {
			rest.WriteError(
				w, http.StatusBadRequest,
				rest.ErrorCodeBadRequest, "",
				"The request body is invalid.")
			return
		}

		contentType := strings.SplitN(r.Header.Get("Content-Type"), ";", 2)[0]

		if !strings.EqualFold(contentType, "application/json") && (len(body) > 0 || contentType != "") {
			rest.WriteError(
				w, http.StatusUnsupportedMediaType,
				rest.ErrorCodeBadRequest, "",
				"The content media type '%s' is not supported. Only 'application/json' is supported.",
				r.Header.Get("Content-Type"))
			return
		}

		ctx := ContextWithBody(r.Context(), body)
		r = r.WithContext(ctx)
	}

	next(w, r)
}
