package task

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/Aprelius/scheduler/core/resilience"
)

var httpTracer = otel.Tracer("scheduler-task-http")

// Breaker is the subset of *resilience.CircuitBreaker an HTTPBody
// needs, kept as an interface so tests can substitute a fake.
type Breaker interface {
	Allow() bool
	RecordResult(success bool)
}

var _ Breaker = (*resilience.CircuitBreaker)(nil)

// HTTPConfig describes an HTTP-backed task body.
type HTTPConfig struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte

	// Vars resolves {{key}} template tokens in URL/Headers/Body against
	// a shared execution context, the same scheme the teacher's plugin
	// layer uses for cross-task field references.
	Vars func() map[string]string

	Client      *http.Client
	Breaker     Breaker
	MaxAttempts uint64 // request-level retry budget for transient failures
}

// HTTPBody issues an HTTP request, wrapped in an optional circuit
// breaker and a bounded exponential-backoff retry for transient
// failures — request-level resilience, distinct from the scheduler's
// own task-level RETRY/PENDING requeue that the returned Result still
// participates in for anything the request-level retry gives up on.
func HTTPBody(cfg HTTPConfig) Body {
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}

	return func(ctx context.Context) (Result, error) {
		if cfg.Breaker != nil && !cfg.Breaker.Allow() {
			return ResultRetry, fmt.Errorf("task: circuit breaker open for %s", cfg.URL)
		}

		ctx, span := httpTracer.Start(ctx, "task.http",
			trace.WithAttributes(
				attribute.String("http.url", cfg.URL),
				attribute.String("http.method", cfg.Method),
			),
		)
		defer span.End()

		op := func() error {
			return doHTTPOnce(ctx, client, cfg)
		}
		bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxAttempts-1)
		err := backoff.Retry(op, backoff.WithContext(bo, ctx))

		if cfg.Breaker != nil {
			cfg.Breaker.RecordResult(err == nil)
		}
		if err != nil {
			span.SetAttributes(attribute.Bool("error", true))
			return ResultFailure, err
		}
		return ResultSuccess, nil
	}
}

func doHTTPOnce(ctx context.Context, client *http.Client, cfg HTTPConfig) error {
	vars := map[string]string{}
	if cfg.Vars != nil {
		vars = cfg.Vars()
	}

	method := cfg.Method
	if method == "" {
		method = http.MethodPost
	}
	url := resolveTemplate(cfg.URL, vars)

	var body io.Reader
	if len(cfg.Body) > 0 {
		body = bytes.NewReader([]byte(resolveTemplate(string(cfg.Body), vars)))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("task: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, resolveTemplate(v, vars))
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("task: http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("task: read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		// Only server errors are worth retrying; 4xx is a permanent
		// rejection of the request as built.
		return fmt.Errorf("task: http %d: %s", resp.StatusCode, string(respBody))
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("task: http %d: %s", resp.StatusCode, string(respBody)))
	}
	return nil
}

// resolveTemplate replaces {{key}} tokens in s with values from vars.
func resolveTemplate(s string, vars map[string]string) string {
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
	}
	return s
}
