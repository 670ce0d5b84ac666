package main

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestOpenAPIDocumentIsValid(t *testing.T) {
	doc := buildOpenAPIDocument()
	require.NoError(t, doc.Validate(context.Background()))
}

func TestOpenAPIDocumentCoversPermissionTable(t *testing.T) {
	doc := buildOpenAPIDocument()
	for _, route := range permissionTable() {
		item := doc.Paths.Find(route.Path)
		require.NotNil(t, item, "missing path %s", route.Path)
		assert.NotNil(t, item.GetOperation(route.Method),
			fmt.Sprintf("missing operation %s %s", route.Method, route.Path))
	}
}

func TestGeneratePassword(t *testing.T) {
	password, hash, err := generatePassword()
	require.NoError(t, err)
	assert.NotEmpty(t, password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)))

	again, _, err := generatePassword()
	require.NoError(t, err)
	assert.NotEqual(t, password, again)
}
