// Package handshake obtains live-channel descriptors from the upstream API.
package handshake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/justapithecus/spotlight/iox"
	"github.com/justapithecus/spotlight/types"
)

// Path is the handshake route relative to the API base URL.
const Path = "/v1/live/handshake"

const (
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "spotlight/" + types.Version
	maxErrorBody     = 4 * 1024
)

// ErrDescriptorExpired is returned when the upstream hands out a descriptor
// that is already past its expiry.
var ErrDescriptorExpired = errors.New("connection descriptor expired")

// StatusError is returned for non-2xx handshake responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("handshake returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("handshake returned status %d: %s", e.StatusCode, e.Body)
}

// Unauthorized reports whether the credential was rejected.
func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Handshaker is implemented by *Client and can be replaced in tests.
type Handshaker interface {
	Handshake(ctx context.Context, credential string, req types.HandshakeRequest) (*types.ConnectionDescriptor, error)
}

var _ Handshaker = (*Client)(nil)

// Client talks to the upstream handshake API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	now       func() time.Time
}

// NewClient builds a Client for apiURL. A nil httpClient gets a default
// client with a request timeout.
func NewClient(apiURL string, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(apiURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api url %q must be http or https", apiURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("api url %q has no host", apiURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:   base,
		http:      httpClient,
		userAgent: defaultUserAgent,
		now:       time.Now,
	}, nil
}

// Handshake exchanges a bearer credential for a live-channel descriptor.
func (c *Client) Handshake(ctx context.Context, credential string, req types.HandshakeRequest) (*types.ConnectionDescriptor, error) {
	ctx, span := otel.Tracer("github.com/justapithecus/spotlight/handshake").Start(ctx, "handshake")
	defer span.End()
	span.SetAttributes(attribute.String("spotlight.screen", req.ScreenName))

	desc, err := c.handshake(ctx, credential, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return desc, nil
}

func (c *Client) handshake(ctx context.Context, credential string, req types.HandshakeRequest) (*types.ConnectionDescriptor, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode handshake request: %w", err)
	}

	endpoint := c.baseURL.JoinPath(Path)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer iox.DrainClose(resp.Body, maxErrorBody)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	var desc types.ConnectionDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if desc.Endpoint == "" {
		return nil, errors.New("handshake response has no url")
	}
	if desc.Expired(c.now()) {
		return nil, fmt.Errorf("%w at %s", ErrDescriptorExpired, desc.ExpiresAt.Format(time.RFC3339))
	}
	return &desc, nil
}
