package frontend

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"net/http"
	"strings"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/api/rest"
	"github.com/cloudcustos/ruleengine/internal/jobs"
)

const (
	// CustomerHeader carries the authenticated caller's customer.
	// Populated by the authenticating proxy in front of the service.
	CustomerHeader = "X-Custos-Customer"
	// TenantsHeader optionally narrows the caller to a comma-separated
	// tenant allowlist. Absent means every tenant of the customer.
	TenantsHeader = "X-Custos-Tenants"
)

// MiddlewareCaller resolves the caller identity from the proxy headers.
// SYSTEM callers act across customers, so their customer scope is empty.
func MiddlewareCaller(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	customer := strings.TrimSpace(r.Header.Get(CustomerHeader))
	if customer == "" {
		rest.WriteError(
			w, http.StatusForbidden,
			rest.ErrorCodeForbidden, CustomerHeader,
			"Caller identity is missing.")
		return
	}

	caller := jobs.Caller{}
	if customer != api.SystemCustomer {
		caller.Customer = customer
	}
	if tenants := strings.TrimSpace(r.Header.Get(TenantsHeader)); tenants != "" {
		for _, tenant := range strings.Split(tenants, ",") {
			if tenant = strings.TrimSpace(tenant); tenant != "" {
				caller.AllowedTenants = append(caller.AllowedTenants, tenant)
			}
		}
	}

	next(w, r.WithContext(ContextWithCaller(r.Context(), caller)))
}
