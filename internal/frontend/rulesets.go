package frontend

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"net/http"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/api/rest"
)

func (f *Frontend) RulesetCreate(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()

	var req api.RulesetCreateRequest
	if !readRequest(writer, request, &req) {
		return
	}

	doc, err := f.rulesets.Create(ctx, &req)
	if err != nil {
		writeServiceError(ctx, writer, err)
		return
	}

	writeJSONResponse(writer, http.StatusCreated, doc)
}

func (f *Frontend) RulesetUpdate(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()

	var req api.RulesetUpdateRequest
	if !readRequest(writer, request, &req) {
		return
	}

	doc, err := f.rulesets.Update(ctx, &req)
	if err != nil {
		writeServiceError(ctx, writer, err)
		return
	}

	writeJSONResponse(writer, http.StatusOK, doc)
}

// RulesetGet returns one version when the version query parameter is set,
// otherwise every version of the named ruleset.
func (f *Frontend) RulesetGet(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()
	query := request.URL.Query()

	name := query.Get("name")
	if name == "" {
		rest.WriteError(
			writer, http.StatusBadRequest,
			rest.ErrorCodeBadRequest, "name",
			"Missing required query parameter 'name'.")
		return
	}

	if version := query.Get("version"); version != "" {
		doc, err := f.rulesets.Get(ctx, query.Get("customer"), name, version)
		if err != nil {
			writeServiceError(ctx, writer, err)
			return
		}
		writeJSONResponse(writer, http.StatusOK, doc)
		return
	}

	docs, err := f.rulesets.List(ctx, query.Get("customer"), name)
	if err != nil {
		writeServiceError(ctx, writer, err)
		return
	}
	writeJSONResponse(writer, http.StatusOK, docs)
}

func (f *Frontend) RulesetDelete(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()

	var req api.RulesetDeleteRequest
	if !readRequest(writer, request, &req) {
		return
	}

	if err := f.rulesets.Delete(ctx, &req); err != nil {
		writeServiceError(ctx, writer, err)
		return
	}

	writer.WriteHeader(http.StatusNoContent)
}

// RulesetRelease publishes the selected rulesets to the License Manager.
// Partial failure yields 207 with per-ruleset results.
func (f *Frontend) RulesetRelease(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()

	var req api.RulesetReleaseRequest
	if !readRequest(writer, request, &req) {
		return
	}

	report, err := f.rulesets.Release(ctx, &req)
	if err != nil {
		writeServiceError(ctx, writer, err)
		return
	}

	writeJSONResponse(writer, report.StatusCode(), report)
}

func (f *Frontend) EventDrivenRulesetCreate(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()

	var req api.EventDrivenRulesetRequest
	if !readRequest(writer, request, &req) {
		return
	}

	cloud, err := api.ParseCloud(req.Cloud)
	if err != nil {
		rest.WriteError(
			writer, http.StatusBadRequest,
			rest.ErrorCodeBadRequest, "cloud", "%s", err.Error())
		return
	}

	doc, err := f.rulesets.CreateEventDriven(ctx, cloud, req.Version, req.Rules)
	if err != nil {
		writeServiceError(ctx, writer, err)
		return
	}

	writeJSONResponse(writer, http.StatusCreated, doc)
}

func (f *Frontend) EventDrivenRulesetGet(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()
	query := request.URL.Query()

	cloud, err := api.ParseCloud(query.Get("cloud"))
	if err != nil {
		rest.WriteError(
			writer, http.StatusBadRequest,
			rest.ErrorCodeBadRequest, "cloud", "%s", err.Error())
		return
	}

	doc, err := f.rulesets.EventDrivenRuleset(ctx, cloud, query.Get("version"))
	if err != nil {
		writeServiceError(ctx, writer, err)
		return
	}

	writeJSONResponse(writer, http.StatusOK, doc)
}
