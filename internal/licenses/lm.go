package licenses

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cloudcustos/ruleengine/internal/api"
	"github.com/cloudcustos/ruleengine/internal/secrets"
)

// ErrUnavailable marks LM connectivity failures; the REST layer maps it
// to 503.
var ErrUnavailable = errors.New("license manager unavailable")

// SigningKeySecret is the secret-store path of the LM signing key.
const SigningKeySecret = "lm/signing-key"

const (
	headerKID       = "X-Custos-Kid"
	headerDate      = "X-Custos-Date"
	headerSignature = "X-Custos-Signature"
)

// SigningKey signs outbound LM requests. One KID and key pair per
// deployment, written by the init-vault command.
type SigningKey struct {
	KID        string
	PrivateKey *rsa.PrivateKey
}

// GenerateSigningKey creates a fresh key pair with the given KID.
func GenerateSigningKey(kid string) (*SigningKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generating lm signing key: %w", err)
	}
	return &SigningKey{KID: kid, PrivateKey: key}, nil
}

// Store persists the key pair in the secret store.
func (k *SigningKey) Store(ctx context.Context, store secrets.Store) error {
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(k.PrivateKey),
	})
	return store.Put(ctx, SigningKeySecret, map[string]any{
		"kid":         k.KID,
		"private_key": string(pemBytes),
	}, 0)
}

// PublicKeyPEM renders the public half for registration with LM.
func (k *SigningKey) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(&k.PrivateKey.PublicKey)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// LoadSigningKey reads the key pair back from the secret store.
func LoadSigningKey(ctx context.Context, store secrets.Store) (*SigningKey, error) {
	data, err := store.Get(ctx, SigningKeySecret)
	if err != nil {
		return nil, fmt.Errorf("loading lm signing key: %w", err)
	}
	kid, _ := data["kid"].(string)
	pemText, _ := data["private_key"].(string)
	if kid == "" || pemText == "" {
		return nil, errors.New("lm signing key secret is incomplete")
	}
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, errors.New("lm signing key is not valid PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing lm signing key: %w", err)
	}
	return &SigningKey{KID: kid, PrivateKey: key}, nil
}

// sign produces the request signature over method, path, date and the
// body digest.
func (k *SigningKey) sign(method, path, date string, body []byte) (string, error) {
	bodyDigest := sha256.Sum256(body)
	payload := fmt.Sprintf("%s\n%s\n%s\n%s", method, path, date, hex.EncodeToString(bodyDigest[:]))
	digest := sha256.Sum256([]byte(payload))
	signature, err := rsa.SignPKCS1v15(rand.Reader, k.PrivateKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing lm request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(signature), nil
}

// RulesetRelease is the payload LM expects when a ruleset version is
// published.
type RulesetRelease struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Cloud       api.Cloud `json:"cloud"`
	Description string    `json:"description,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	DownloadURL string    `json:"download_url"`
	Rules       []string  `json:"rules"`
}

type permissionRequest struct {
	Customer         string `json:"customer"`
	TenantName       string `json:"tenant_name"`
	TenantLicenseKey string `json:"tenant_license_key"`
}

type permissionResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// LMClient is the signed HTTP client for the external License Manager.
type LMClient struct {
	baseURL      *url.URL
	httpClient   *http.Client
	key          *SigningKey
	logger       *slog.Logger
	newTimestamp func() time.Time
}

// NewLMClient builds a client with its own timeout, independent of the
// enclosing request deadline.
func NewLMClient(baseURL string, key *SigningKey, timeout time.Duration, logger *slog.Logger) (*LMClient, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing lm base url: %w", err)
	}
	return &LMClient{
		baseURL:      parsed,
		httpClient:   &http.Client{Timeout: timeout},
		key:          key,
		logger:       logger,
		newTimestamp: time.Now,
	}, nil
}

func (c *LMClient) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	date := c.newTimestamp().UTC().Format(time.RFC3339)
	signature, err := c.key.sign(http.MethodPost, endpoint.Path, date, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(headerKID, c.key.KID)
	req.Header.Set(headerDate, date)
	req.Header.Set(headerSignature, signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

// CheckPermission asks LM whether the TLK authorizes an execution for
// (customer, tenant).
func (c *LMClient) CheckPermission(ctx context.Context, customer, tenant, tenantLicenseKey string) (bool, error) {
	resp, err := c.post(ctx, "jobs/permissions", permissionRequest{
		Customer:         customer,
		TenantName:       tenant,
		TenantLicenseKey: tenantLicenseKey,
	})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("lm permission check returned %d", resp.StatusCode)
	}
	var decoded permissionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return false, fmt.Errorf("decoding lm permission response: %w", err)
	}
	if !decoded.Allowed && decoded.Reason != "" {
		c.logger.InfoContext(ctx, "lm denied execution",
			"customer", customer,
			"tenant", tenant,
			"reason", decoded.Reason)
	}
	return decoded.Allowed, nil
}

// PostRuleset publishes one released ruleset version to LM.
func (c *LMClient) PostRuleset(ctx context.Context, release RulesetRelease) error {
	resp, err := c.post(ctx, "rulesets", release)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("lm rejected ruleset %s@%s: %d %s", release.Name, release.Version, resp.StatusCode, detail)
	}
	return nil
}
