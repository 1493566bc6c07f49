// Package restapi issues authenticated REST calls for the HTTP-based connectors.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/open-sspm/opsdash/internal/connectors/connerr"
	"github.com/open-sspm/opsdash/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout   = 120 * time.Second
	maxBodySize      = 64 << 20
	maxErrorBodySize = 1 << 20 // 1 MiB
	maxErrorMsgLen   = 300
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Authorizer decorates an outbound request with credentials.
type Authorizer func(ctx context.Context, req *http.Request) error

// Options configures an Executor.
type Options struct {
	Vendor    string
	BaseURL   string
	HTTP      *http.Client
	Auth      Authorizer
	Limiter   *rate.Limiter
	UserAgent string
}

// Executor sends requests relative to a base URL.
type Executor struct {
	vendor    string
	base      *url.URL
	http      *http.Client
	auth      Authorizer
	limiter   *rate.Limiter
	userAgent string
}

// Request describes one remote call.
type Request struct {
	Method string
	// Path is resolved against the base URL unless it is absolute.
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
}

// Response is a successful (2xx) remote reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       Decoded
}

func New(opts Options) (*Executor, error) {
	vendor := strings.TrimSpace(opts.Vendor)
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		return nil, &connerr.ConfigurationError{Vendor: vendor, Missing: []string{"base_url"}}
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &connerr.ConfigurationError{Vendor: vendor, Invalid: map[string]string{"base_url": fmt.Sprintf("%q is not an absolute URL", opts.BaseURL)}}
	}

	client := opts.HTTP
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "opsdash"
	}
	return &Executor{
		vendor:    vendor,
		base:      base,
		http:      client,
		auth:      opts.Auth,
		limiter:   opts.Limiter,
		userAgent: ua,
	}, nil
}

// HTTPClient exposes the underlying transport, mainly for tests.
func (e *Executor) HTTPClient() *http.Client { return e.http }

// Get is shorthand for a GET with optional query parameters.
func (e *Executor) Get(ctx context.Context, path string, query url.Values) (Response, error) {
	return e.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post is shorthand for a POST with a JSON body.
func (e *Executor) Post(ctx context.Context, path string, body any) (Response, error) {
	return e.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Execute is the generic form used by connectors' passthrough operations.
func (e *Executor) Execute(ctx context.Context, method, target string, payload any, query url.Values) (Decoded, error) {
	resp, err := e.Do(ctx, Request{Method: method, Path: target, Body: payload, Query: query})
	if err != nil {
		return Decoded{}, err
	}
	return resp.Body, nil
}

// CheckMethod normalizes an HTTP verb, rejecting anything outside the
// supported set. An empty verb means GET.
func CheckMethod(vendor, method string) (string, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	if !allowedMethods[method] {
		return "", &connerr.UnsupportedOperationError{Vendor: vendor, Operation: "HTTP " + method}
	}
	return method, nil
}

// Do sends req exactly once. Non-2xx replies, 429 included, come back as
// *connerr.RemoteRequestError. Unsupported verbs fail before any network I/O.
func (e *Executor) Do(ctx context.Context, req Request) (Response, error) {
	method, err := CheckMethod(e.vendor, req.Method)
	if err != nil {
		return Response{}, err
	}

	endpoint, err := e.resolve(req.Path, req.Query)
	if err != nil {
		return Response{}, err
	}

	var payload []byte
	if req.Body != nil {
		switch b := req.Body.(type) {
		case []byte:
			payload = b
		case json.RawMessage:
			payload = b
		default:
			payload, err = json.Marshal(b)
			if err != nil {
				return Response{}, fmt.Errorf("%s: encode request body: %w", e.vendor, err)
			}
		}
	}

	start := time.Now()
	resp, err := e.send(ctx, method, endpoint, payload, req.Header)
	metrics.ObserveRequest(e.vendor, method, start, connerr.Outcome(err))
	if err != nil {
		slog.Debug("connector request failed", "vendor", e.vendor, "method", method, "url", safeURL(endpoint), "err", err)
	}
	return resp, err
}

func (e *Executor) send(ctx context.Context, method, endpoint string, payload []byte, header http.Header) (Response, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return Response{}, err
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return Response{}, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", e.userAgent)
	if payload != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.auth != nil {
		if err := e.auth(ctx, req); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Response{}, ctxErr
			}
			var authErr *connerr.AuthenticationError
			if errors.As(err, &authErr) {
				return Response{}, err
			}
			return Response{}, &connerr.AuthenticationError{Vendor: e.vendor, Err: err}
		}
	}

	resp, err := e.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, ctxErr
		}
		return Response{}, &connerr.RemoteRequestError{Vendor: e.vendor, Target: safeURL(endpoint), Err: err}
	}
	defer resp.Body.Close()

	limit := int64(maxBodySize)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		limit = maxErrorBodySize
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return Response{}, &connerr.RemoteRequestError{Vendor: e.vendor, Target: safeURL(endpoint), StatusCode: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		// Rate limiting is surfaced to the caller; the limiter only paces.
		metrics.ConnectorRateLimitedTotal.WithLabelValues(e.vendor).Inc()
		return Response{}, e.remoteError(endpoint, resp, raw)
	case resp.StatusCode == http.StatusUnauthorized:
		return Response{}, &connerr.AuthenticationError{Vendor: e.vendor, Err: e.remoteError(endpoint, resp, raw)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Response{}, e.remoteError(endpoint, resp, raw)
	}
	return Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: Decode(raw)}, nil
}

func (e *Executor) resolve(path string, query url.Values) (string, error) {
	path = strings.TrimSpace(path)
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("%s: invalid target %q: %w", e.vendor, path, err)
	}
	if ref.IsAbs() {
		ref, err = url.Parse(path)
		if err != nil {
			return "", fmt.Errorf("%s: invalid target %q: %w", e.vendor, path, err)
		}
	}
	u := e.base.ResolveReference(ref)
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	u.Fragment = ""
	return u.String(), nil
}

func (e *Executor) remoteError(endpoint string, resp *http.Response, body []byte) *connerr.RemoteRequestError {
	return &connerr.RemoteRequestError{
		Vendor:     e.vendor,
		Target:     safeURL(endpoint),
		StatusCode: resp.StatusCode,
		Body:       extractErrorMessage(body),
	}
}

func extractErrorMessage(body []byte) string {
	var payload struct {
		Errors  []string `json:"errors"`
		Error   string   `json:"error"`
		Message string   `json:"message"`
		Status  struct {
			UserMessage string `json:"user_message"`
		} `json:"status"`
		ErrorCode string `json:"errorCode"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.Errors) > 0 {
			if first := strings.TrimSpace(payload.Errors[0]); first != "" {
				return first
			}
		}
		for _, msg := range []string{payload.Status.UserMessage, payload.Message, payload.Error} {
			if msg = strings.TrimSpace(msg); msg != "" {
				if code := strings.TrimSpace(payload.ErrorCode); code != "" {
					return code + ": " + msg
				}
				return msg
			}
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return ""
	}
	if strings.HasPrefix(msg, "<!DOCTYPE html") || strings.HasPrefix(msg, "<html") {
		return ""
	}
	msg = strings.Join(strings.Fields(msg), " ")
	if len(msg) > maxErrorMsgLen {
		msg = msg[:maxErrorMsgLen] + "…"
	}
	return msg
}

func safeURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.RawQuery != "" {
		return u.Scheme + "://" + u.Host + u.Path + "?" + u.RawQuery
	}
	return u.Scheme + "://" + u.Host + u.Path
}
