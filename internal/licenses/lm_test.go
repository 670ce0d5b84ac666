package licenses

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/secrets"
)

func testSigningKey(t *testing.T) *SigningKey {
	t.Helper()
	key, err := GenerateSigningKey("kid-1")
	require.NoError(t, err)
	return key
}

func TestSigningKeyRoundTrip(t *testing.T) {
	ctx := t.Context()
	store := secrets.NewMemory()

	key := testSigningKey(t)
	require.NoError(t, key.Store(ctx, store))

	loaded, err := LoadSigningKey(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "kid-1", loaded.KID)
	assert.True(t, key.PrivateKey.Equal(loaded.PrivateKey))

	pemText, err := loaded.PublicKeyPEM()
	require.NoError(t, err)
	assert.Contains(t, pemText, "PUBLIC KEY")
}

func TestLoadSigningKeyMissing(t *testing.T) {
	_, err := LoadSigningKey(t.Context(), secrets.NewMemory())
	assert.Error(t, err)
}

func TestLMClientCheckPermission(t *testing.T) {
	key := testSigningKey(t)

	var gotPath string
	var gotHeaders http.Header
	var gotBody permissionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(permissionResponse{Allowed: true})
	}))
	defer server.Close()

	client, err := NewLMClient(server.URL, key, time.Second, slog.Default())
	require.NoError(t, err)

	allowed, err := client.CheckPermission(t.Context(), "C1", "T1", "tlk-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	assert.Equal(t, "/jobs/permissions", gotPath)
	assert.Equal(t, "kid-1", gotHeaders.Get(headerKID))
	assert.NotEmpty(t, gotHeaders.Get(headerDate))
	assert.NotEmpty(t, gotHeaders.Get(headerSignature))
	assert.Equal(t, permissionRequest{
		Customer:         "C1",
		TenantName:       "T1",
		TenantLicenseKey: "tlk-1",
	}, gotBody)
}

func TestLMClientCheckPermissionDenied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(permissionResponse{Allowed: false, Reason: "expired"})
	}))
	defer server.Close()

	client, err := NewLMClient(server.URL, testSigningKey(t), time.Second, slog.Default())
	require.NoError(t, err)

	allowed, err := client.CheckPermission(t.Context(), "C1", "T1", "tlk-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestLMClientUnavailable(t *testing.T) {
	// A closed server: connection refused.
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	client, err := NewLMClient(server.URL, testSigningKey(t), time.Second, slog.Default())
	require.NoError(t, err)

	_, err = client.CheckPermission(t.Context(), "C1", "T1", "tlk-1")
	assert.ErrorIs(t, err, ErrUnavailable)

	err = client.PostRuleset(t.Context(), RulesetRelease{Name: "RS", Version: "1.0.0"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLMClientPostRuleset(t *testing.T) {
	var gotRelease RulesetRelease
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rulesets", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRelease))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client, err := NewLMClient(server.URL, testSigningKey(t), time.Second, slog.Default())
	require.NoError(t, err)

	release := RulesetRelease{
		Name:        "RS-AWS-CORE",
		Version:     "1.2.0",
		Cloud:       api.CloudAWS,
		DownloadURL: "https://example.com/bundle",
		Rules:       []string{"ecc-aws-001-x"},
	}
	require.NoError(t, client.PostRuleset(t.Context(), release))
	assert.Equal(t, release, gotRelease)
}

func TestLMClientPostRulesetRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "version exists", http.StatusConflict)
	}))
	defer server.Close()

	client, err := NewLMClient(server.URL, testSigningKey(t), time.Second, slog.Default())
	require.NoError(t, err)

	err = client.PostRuleset(t.Context(), RulesetRelease{Name: "RS", Version: "1.0.0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")
	assert.NotErrorIs(t, err, ErrUnavailable)
}
