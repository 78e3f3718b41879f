// Package http provides a signed REST client with resilience policies
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "position_trader/pkg/errors"
	"position_trader/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// APIError is a non-2xx response
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Signer adds authentication headers. body is the exact payload that will be sent.
type Signer interface {
	SignRequest(req *http.Request, body []byte) error
}

// Options tunes the resilience pipeline
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// DefaultOptions matches the exchange's documented limits
func DefaultOptions() Options {
	return Options{
		Timeout:    10 * time.Second,
		MaxRetries: 3,
		MinBackoff: 100 * time.Millisecond,
		MaxBackoff: 2 * time.Second,
	}
}

// Client wraps http.Client. Idempotent reads are retried and every call
// passes a shared circuit breaker; writes are never retried here. GetOnce
// bypasses both for callers that own their retry budget.
type Client struct {
	client  *http.Client
	baseURL string
	signer  Signer

	readPipeline  failsafe.Executor[*http.Response]
	writePipeline failsafe.Executor[*http.Response]

	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a client for baseURL. signer may be nil for public endpoints.
func NewClient(baseURL string, opts Options, signer Signer) *Client {
	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		}).
		WithBackoff(opts.MinBackoff, opts.MaxBackoff).
		WithMaxRetries(opts.MaxRetries).
		ReturnLastFailure().
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	tracer := telemetry.GetTracer("http-client")
	meter := telemetry.GetMeter("http-client")

	reqCounter, _ := meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"))
	errCounter, _ := meter.Int64Counter("http_errors_total",
		metric.WithDescription("Total number of HTTP errors"))
	latencyHist, _ := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"))

	return &Client{
		client:        &http.Client{Timeout: opts.Timeout},
		baseURL:       baseURL,
		signer:        signer,
		readPipeline:  failsafe.With[*http.Response](retryPolicy, breaker),
		writePipeline: failsafe.With[*http.Response](breaker),
		tracer:        tracer,
		reqCounter:    reqCounter,
		errCounter:    errCounter,
		latencyHist:   latencyHist,
	}
}

// Get sends a GET request
func (c *Client) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	req, err := c.newGet(ctx, path, params)
	if err != nil {
		return nil, err
	}
	return c.do(req, nil, c.readPipeline)
}

// GetOnce sends a single GET request with no retry and no circuit breaker
func (c *Client) GetOnce(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	req, err := c.newGet(ctx, path, params)
	if err != nil {
		return nil, err
	}
	return c.do(req, nil, nil)
}

func (c *Client) newGet(ctx context.Context, path string, params map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if len(params) > 0 {
		q := req.URL.Query()
		for k, v := range params {
			q.Add(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}
	return req, nil
}

// Post sends a JSON POST request
func (c *Client) Post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, payload, c.writePipeline)
}

func (c *Client) do(req *http.Request, payload []byte, pipeline failsafe.Executor[*http.Response]) ([]byte, error) {
	start := time.Now()

	ctx, span := c.tracer.Start(req.Context(), fmt.Sprintf("%s %s", req.Method, req.URL.Path),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
		),
	)
	defer span.End()

	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")

	if c.signer != nil {
		if err := c.signer.SignRequest(req, payload); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	var resp *http.Response
	var err error
	if pipeline == nil {
		resp, err = c.client.Do(req)
	} else {
		resp, err = pipeline.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
			if prev := exec.LastResult(); prev != nil && prev.Body != nil {
				_ = prev.Body.Close()
			}
			attempt := req.Clone(ctx)
			if payload != nil {
				attempt.Body = io.NopCloser(bytes.NewReader(payload))
			}
			return c.client.Do(attempt)
		})
	}

	attrs := metric.WithAttributes(
		attribute.String("method", req.Method),
		attribute.String("path", req.URL.Path),
	)
	c.reqCounter.Add(ctx, 1, attrs)
	c.latencyHist.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		span.RecordError(err)
		c.errCounter.Add(ctx, 1, attrs)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrSystemOverload, err)
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: failed to read response body: %v", apperrors.ErrNetwork, err)
	}

	if resp.StatusCode >= 400 {
		c.errCounter.Add(ctx, 1, attrs)
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	return body, nil
}
