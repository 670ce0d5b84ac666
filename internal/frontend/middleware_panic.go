package frontend

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"testing"

	"github.com/cloudcustos/ruleengine/internal/api/rest"
)

// MiddlewarePanic turns a handler panic into a 500 response instead of
// killing the connection. Disabled under "go test" so a panicking
// handler fails the test loudly.
func MiddlewarePanic(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	if !testing.Testing() {
		defer func() {
			if v := recover(); v != nil {
				LoggerFromContext(r.Context()).Error(fmt.Sprintf("panic: %#v\n%s", v, debug.Stack()))
				rest.WriteInternalServerError(w)
			}
		}()
	}

	next(w, r)
}
