// Package provider is the shared HTTP plumbing for the external transcription
// and generation services: request execution, status mapping to classified
// errors and a per-provider health monitor.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"net/url"
	"time"

	"github.com/vietddude/noteably/internal/core/apperr"
)

// maxErrorBody bounds how much of an error response is kept in messages.
const maxErrorBody = 512

// Request is one REST call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// HTTPProvider executes JSON REST calls against one external service.
// Failures are returned as apperr errors of the provider's kind.
type HTTPProvider struct {
	name       string
	baseURL    string
	headers    http.Header
	kind       apperr.Kind
	httpClient *http.Client
	log        *slog.Logger

	Monitor *Monitor
}

// NewHTTPProvider creates a provider. kind classifies transport and 5xx
// failures (e.g. apperr.KindTranscription).
func NewHTTPProvider(name, baseURL string, kind apperr.Kind, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:    name,
		baseURL: baseURL,
		headers: make(http.Header),
		kind:    kind,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log:     slog.Default().With("component", "provider", "provider", name),
		Monitor: NewMonitor(),
	}
}

// Name returns the provider name.
func (p *HTTPProvider) Name() string { return p.name }

// SetHeader sets a header sent with every request.
func (p *HTTPProvider) SetHeader(key, value string) {
	p.headers.Set(key, value)
}

// Execute performs req and returns the response body of a 2xx response.
func (p *HTTPProvider) Execute(ctx context.Context, req Request) ([]byte, error) {
	if wait := p.Monitor.RetryAfter(); wait > 0 {
		return nil, apperr.RateLimited(p.name+" is rate limiting requests", wait)
	}

	start := time.Now()
	httpReq, err := p.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.Monitor.RecordFailure()
		return nil, p.transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.Monitor.RecordFailure()
		return nil, p.transportError(ctx, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.Monitor.RecordRequest(time.Since(start))
		return body, nil
	}
	return nil, p.statusError(resp, body)
}

func (p *HTTPProvider) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	u := p.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range p.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

// transportError classifies a failure that produced no HTTP response.
func (p *HTTPProvider) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s request: %w", p.name, ctxErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Wrap(apperr.KindTimeout, err, p.name+" request timed out")
	}
	return apperr.Wrap(p.kind, err, p.name+" request failed")
}

// statusError maps a non-2xx response to a classified error.
func (p *HTTPProvider) statusError(resp *http.Response, body []byte) error {
	snippet := string(body)
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody]
	}
	details := map[string]any{"status": resp.StatusCode, "body": snippet}

	status := resp.StatusCode
	switch {
	// Throttle text is only trusted on 429 and 5xx; client errors that
	// mention a quota are account limits, not transient throttling.
	case status == http.StatusTooManyRequests || (status >= 500 && p.Monitor.DetectThrottlePattern(snippet)):
		wait := ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		if wait <= 0 {
			wait = apperr.DefaultRetryAfter
		}
		p.Monitor.RecordThrottle(wait)
		p.log.Warn("Provider rate limited", "retry_after", wait)
		return apperr.RateLimited(p.name+" rate limit reached", wait).WithDetails(details)

	case status == http.StatusPaymentRequired || (status >= 400 && status < 500 && mentionsQuota(snippet)):
		p.Monitor.RecordFailure()
		return apperr.Newf(apperr.KindQuotaExceeded, "%s account quota exceeded", p.name).WithDetails(details)

	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		p.Monitor.RecordFailure()
		return apperr.Newf(apperr.KindPermissionDenied, "%s rejected the credentials", p.name).WithDetails(details)

	case status == http.StatusNotFound:
		p.Monitor.RecordFailure()
		return apperr.Newf(apperr.KindNotFound, "%s resource not found", p.name).WithDetails(details)

	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		p.Monitor.RecordFailure()
		return apperr.Newf(apperr.KindTimeout, "%s timed out (http %d)", p.name, status).WithDetails(details)

	default:
		p.Monitor.RecordFailure()
		return apperr.Newf(p.kind, "%s returned http %d", p.name, status).WithDetails(details)
	}
}

func mentionsQuota(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "insufficient credit")
}
