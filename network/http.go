package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Keksclan/rawrcache/breaker"
	"github.com/Keksclan/rawrcache/catalog"
	"github.com/Keksclan/rawrcache/ratelimit"
	"github.com/Keksclan/rawrcache/retry"
	"github.com/jmgilman/go/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Keksclan/rawrcache/network"

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 32 << 20

// HTTP is the reference Catalog implementation. It talks to a catalogue
// service rooted at a base URL and retries transient failures with
// exponential back-off.
//
// Bearer token and last response code are guarded by their own mutex, never
// held across a request.
type HTTP struct {
	baseURL string
	hc      *http.Client
	timeout time.Duration
	retry   retry.Config
	breaker *breaker.Breaker
	limiter *ratelimit.Limiter
	tracer  trace.Tracer
	logger  *slog.Logger

	mu       sync.Mutex
	token    string
	lastCode int
}

// Option configures an HTTP client.
type Option func(*HTTP)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(h *HTTP) {
		if hc != nil {
			h.hc = hc
		}
	}
}

// WithTimeout bounds each individual attempt.
func WithTimeout(d time.Duration) Option {
	return func(h *HTTP) {
		h.timeout = d
	}
}

// WithMaxRetries sets the total number of attempts per call.
func WithMaxRetries(n int) Option {
	return func(h *HTTP) {
		h.retry.MaxAttempts = n
	}
}

// WithBaseDelay sets the first back-off delay; later delays double. The
// default is one second.
func WithBaseDelay(d time.Duration) Option {
	return func(h *HTTP) {
		h.retry.BaseDelay = d
	}
}

// WithBreaker guards calls with a circuit breaker. Only retryable failures
// count against it.
func WithBreaker(threshold int, openTimeout time.Duration) Option {
	return func(h *HTTP) {
		if threshold <= 0 {
			h.breaker = nil
			return
		}
		h.breaker = breaker.New(breaker.Config{
			FailureThreshold:   threshold,
			OpenTimeout:        openTimeout,
			HalfOpenMaxSuccess: 1,
			IsFailure:          countsAgainstBreaker,
			OnStateChange: func(from, to breaker.State) {
				h.logger.Warn("catalogue circuit breaker changed state",
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
	}
}

// WithRateLimit paces outbound attempts to rps requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(h *HTTP) {
		h.limiter = ratelimit.NewLimiter(rps, burst)
	}
}

// WithTracerProvider sets the provider used for per-attempt spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(h *HTTP) {
		if tp != nil {
			h.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *HTTP) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHTTP creates a catalogue client for baseURL.
func NewHTTP(baseURL string, opts ...Option) *HTTP {
	h := &HTTP{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		hc:      &http.Client{},
		timeout: 30 * time.Second,
		retry: retry.Config{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			Retryable:   IsRetryable,
		},
		tracer: otel.GetTracerProvider().Tracer(tracerName),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(h)
	}
	h.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		h.logger.Warn("catalogue request failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.Any("err", err))
	}
	return h
}

// SetBearerToken configures the Authorization header; empty clears it.
func (h *HTTP) SetBearerToken(token string) {
	h.mu.Lock()
	h.token = strings.TrimSpace(token)
	h.mu.Unlock()
}

// LastResponseCode returns the status of the most recent attempt.
func (h *HTTP) LastResponseCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastCode
}

func (h *HTTP) setLastCode(code int) {
	h.mu.Lock()
	h.lastCode = code
	h.mu.Unlock()
}

func (h *HTTP) bearer() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.token
}

// Fetch performs a GET with retries.
func (h *HTTP) Fetch(ctx context.Context, rawURL string, headers map[string]string) (string, error) {
	return h.do(ctx, http.MethodGet, rawURL, nil, "", headers)
}

// Post submits form data with retries.
func (h *HTTP) Post(ctx context.Context, rawURL string, form url.Values, headers map[string]string) (string, error) {
	return h.do(ctx, http.MethodPost, rawURL, []byte(form.Encode()), "application/x-www-form-urlencoded", headers)
}

func (h *HTTP) do(ctx context.Context, method, rawURL string, body []byte, contentType string, headers map[string]string) (string, error) {
	return retry.Do(ctx, h.retry, func(ctx context.Context) (string, error) {
		if err := h.limiter.Wait(ctx); err != nil {
			return "", errors.Wrap(err, errors.CodeExecutionFailed, "outbound rate limit")
		}
		if h.breaker == nil {
			return h.attempt(ctx, method, rawURL, body, contentType, headers)
		}
		return breaker.Call(h.breaker, func() (string, error) {
			return h.attempt(ctx, method, rawURL, body, contentType, headers)
		})
	})
}

// attempt performs a single request bounded by the per-attempt timeout.
func (h *HTTP) attempt(parent context.Context, method, rawURL string, body []byte, contentType string, headers map[string]string) (string, error) {
	ctx, span := h.tracer.Start(parent, "catalogue "+method, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.full", rawURL),
	)

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		h.setLastCode(0)
		err = errors.Wrapf(err, errors.CodeInvalidInput, "%s %s: build request", method, rawURL)
		recordSpanError(span, err)
		return "", err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if tok := h.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := h.hc.Do(req)
	if err != nil {
		h.setLastCode(0)
		err = transportError(parent, method, rawURL, err)
		recordSpanError(span, err)
		return "", err
	}
	defer resp.Body.Close()

	h.setLastCode(resp.StatusCode)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		err = transportError(parent, method, rawURL, err)
		recordSpanError(span, err)
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := statusError(method, rawURL, resp.StatusCode)
		recordSpanError(span, err)
		return "", err
	}
	span.SetStatus(codes.Ok, "")
	return string(data), nil
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("error.code", string(errors.GetCode(err))))
}

// IsNetworkAvailable probes the base URL once, without retries. Any HTTP
// response counts as reachable.
func (h *HTTP) IsNetworkAvailable(ctx context.Context) bool {
	if h.baseURL == "" {
		return false
	}
	timeout := h.timeout
	if timeout <= 0 || timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := h.hc.Do(req)
	if err != nil {
		h.logger.Debug("catalogue unreachable", slog.String("url", h.baseURL), slog.Any("err", err))
		return false
	}
	_ = resp.Body.Close()
	return true
}

func (h *HTTP) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return h.baseURL + "/" + strings.Join(escaped, "/")
}

// getJSON fetches rawURL and decodes the body into T.
func getJSON[T any](ctx context.Context, h *HTTP, rawURL string) (T, error) {
	var out T
	body, err := h.Fetch(ctx, rawURL, nil)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return out, errors.Wrapf(err, errors.CodeSchemaFailed, "decode %s", rawURL)
	}
	return out, nil
}

// ApplicationsInstalled lists applications installed across installations.
func (h *HTTP) ApplicationsInstalled(ctx context.Context) ([]catalog.Application, error) {
	return getJSON[[]catalog.Application](ctx, h, h.endpoint("applications", "installed"))
}

// ApplicationsRemote lists applications available from remote.
func (h *HTTP) ApplicationsRemote(ctx context.Context, remote string) ([]catalog.Application, error) {
	if strings.TrimSpace(remote) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "remote name is required")
	}
	return getJSON[[]catalog.Application](ctx, h, h.endpoint("remotes", remote, "applications"))
}

// UserInstallation returns the per-user installation.
func (h *HTTP) UserInstallation(ctx context.Context) (catalog.Installation, error) {
	return getJSON[catalog.Installation](ctx, h, h.endpoint("installations", "user"))
}

// SystemInstallations lists the system-wide installations.
func (h *HTTP) SystemInstallations(ctx context.Context) ([]catalog.Installation, error) {
	return getJSON[[]catalog.Installation](ctx, h, h.endpoint("installations", "system"))
}

// Remotes lists the remotes configured on an installation.
func (h *HTTP) Remotes(ctx context.Context, installationID string) ([]catalog.Remote, error) {
	if strings.TrimSpace(installationID) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "installation id is required")
	}
	return getJSON[[]catalog.Remote](ctx, h, h.endpoint("installations", installationID, "remotes"))
}

// String identifies the client in logs.
func (h *HTTP) String() string {
	return fmt.Sprintf("network.HTTP(%s)", h.baseURL)
}

var _ Catalog = (*HTTP)(nil)
