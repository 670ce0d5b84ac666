package frontend

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"net/http"

	"github.com/cloudcustos/ruleengine/internal/api"
)

// EventSubmit appends one raw event batch. The assembler picks it up on
// its next sweep, so acceptance is all that is acknowledged here.
func (f *Frontend) EventSubmit(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()

	var req api.EventSubmitRequest
	if !readRequest(writer, request, &req) {
		return
	}

	doc, err := f.ingestor.Ingest(ctx, &req)
	if err != nil {
		writeServiceError(ctx, writer, err)
		return
	}

	writeJSONResponse(writer, http.StatusAccepted, map[string]any{
		"partition": doc.Partition,
		"timestamp": doc.Timestamp,
		"events":    len(doc.Events),
	})
}
