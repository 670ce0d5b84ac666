package frontend

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/api/rest"
	"github.com/cloudcustos/ruleengine/internal/database"
)

func (f *Frontend) ExceptionCreate(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()

	c, ok := caller(writer, request)
	if !ok {
		return
	}

	var req api.ExceptionRequest
	if !readRequest(writer, request, &req) {
		return
	}

	if req.IdentificationModes() != 1 {
		rest.WriteError(
			writer, http.StatusBadRequest,
			rest.ErrorCodeBadRequest, "",
			"Exactly one identification mode must be set: arn, the (resource_id, resource_type, location) triple, or tags_filters.")
		return
	}

	customer := req.Customer
	if c.Customer != "" {
		customer = c.Customer
	}
	if customer == "" {
		rest.WriteError(
			writer, http.StatusBadRequest,
			rest.ErrorCodeBadRequest, "customer",
			"Missing required field 'customer'.")
		return
	}

	if req.TenantName != "" {
		tenant, err := f.dbClient.GetTenant(ctx, req.TenantName)
		if err != nil {
			writeServiceError(ctx, writer, err)
			return
		}
		if !c.Allows(tenant) || tenant.Customer != customer {
			rest.WriteError(
				writer, http.StatusForbidden,
				rest.ErrorCodeForbidden, req.TenantName,
				"Tenant '%s' is not accessible.", req.TenantName)
			return
		}
	}

	doc := &database.ExceptionDocument{
		ID:           uuid.NewString(),
		Customer:     customer,
		TenantName:   req.TenantName,
		ARN:          req.ARN,
		ResourceID:   req.ResourceID,
		ResourceType: req.ResourceType,
		Location:     req.Location,
		TagsFilters:  req.TagsFilters,
		Reason:       req.Reason,
		ExpireAt:     req.ExpireAt,
	}
	if err := f.dbClient.SetException(ctx, doc); err != nil {
		writeServiceError(ctx, writer, err)
		return
	}

	writeJSONResponse(writer, http.StatusCreated, doc)
}

func (f *Frontend) ExceptionList(writer http.ResponseWriter, request *http.Request) {
	ctx := request.Context()

	c, ok := caller(writer, request)
	if !ok {
		return
	}

	customer := request.URL.Query().Get("customer")
	if c.Customer != "" {
		customer = c.Customer
	}

	docs, err := f.dbClient.ListExceptions(ctx, customer, request.URL.Query().Get("tenant"))
	if err != nil {
		writeServiceError(ctx, writer, err)
		return
	}

	writeJSONResponse(writer, http.StatusOK, docs)
}
