package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apierrors "github.com/drblury/apibridge/internal/runtime/errors"
	"github.com/drblury/apibridge/internal/runtime/jsoncodec"
	"github.com/drblury/apibridge/internal/runtime/logging"
	"github.com/drblury/apibridge/internal/runtime/schema"
)

// HTTPCallerOptions configures NewHTTPCaller.
type HTTPCallerOptions struct {
	// Client defaults to a client with an OpenTelemetry transport.
	Client *http.Client
	// Timeout applies when the target's schema config sets none.
	Timeout time.Duration
	// BreakerFailures opens a host's circuit after that many consecutive
	// failures. Zero disables the breaker.
	BreakerFailures uint32
	// BreakerCooldown is how long an open circuit rejects calls.
	BreakerCooldown time.Duration
	Logger          logging.ServiceLogger
}

// HTTPCaller performs method calls against services exposing an HTTP
// protocol section. It never retries.
type HTTPCaller struct {
	client   *http.Client
	timeout  time.Duration
	failures uint32
	cooldown time.Duration
	logger   logging.ServiceLogger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewHTTPCaller(opts HTTPCallerOptions) *HTTPCaller {
	client := opts.Client
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopServiceLogger()
	}
	cooldown := opts.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &HTTPCaller{
		client:   client,
		timeout:  opts.Timeout,
		failures: opts.BreakerFailures,
		cooldown: cooldown,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Call invokes method on the service described by cfg and returns the raw
// response body. Non-2xx answers are transport errors.
func (c *HTTPCaller) Call(ctx context.Context, cfg schema.HTTPConfig, method string, params map[string]any) ([]byte, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := BuildRequest(ctx, cfg, method, params)
	if err != nil {
		return nil, apierrors.Transport("http request", err)
	}

	breaker := c.breaker(req.URL.Scheme + "://" + req.URL.Host)
	if breaker == nil {
		body, err := c.do(req)
		if err != nil {
			return nil, apierrors.Transport("http call", err)
		}
		return body, nil
	}

	out, err := breaker.Execute(func() (interface{}, error) {
		return c.do(req)
	})
	if err != nil {
		return nil, apierrors.Transport("http call", err)
	}
	return out.([]byte), nil
}

func (c *HTTPCaller) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: req.URL.Redacted(), StatusCode: resp.StatusCode, Body: truncate(body, 256)}
	}
	return body, nil
}

func (c *HTTPCaller) breaker(host string) *gobreaker.CircuitBreaker {
	if c.failures == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[host]; ok {
		return cb
	}
	threshold := c.failures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     c.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("HTTP circuit state changed", logging.LogFields{
				"host": name,
				"from": from.String(),
				"to":   to.String(),
			})
		},
	})
	c.breakers[host] = cb
	return cb
}

// BreakerState reports the circuit state for a host ("scheme://host:port").
func (c *HTTPCaller) BreakerState(host string) gobreaker.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[host]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s answered %d: %s", e.URL, e.StatusCode, e.Body)
}

// BuildRequest renders a method call. GET carries params in the query;
// POST sends them form encoded unless the config asks for JSON.
func BuildRequest(ctx context.Context, cfg schema.HTTPConfig, method string, params map[string]any) (*http.Request, error) {
	target := cfg.URL(method)
	var (
		body        io.Reader
		contentType string
	)

	switch {
	case cfg.Method == http.MethodGet:
		values, err := FormValues(params)
		if err != nil {
			return nil, err
		}
		if len(values) > 0 {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + values.Encode()
		}
	case cfg.JSONBody():
		payload, err := jsoncodec.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode json body: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	default:
		values, err := FormValues(params)
		if err != nil {
			return nil, err
		}
		body = strings.NewReader(values.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, target, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if cfg.Auth || cfg.Username != "" {
		req.SetBasicAuth(cfg.Username, cfg.Password)
	}
	return req, nil
}

// FormValues flattens params for form or query encoding. Strings pass
// through, nil is dropped, and structured values are JSON encoded.
func FormValues(params map[string]any) (url.Values, error) {
	values := make(url.Values, len(params))
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		switch v := params[name].(type) {
		case nil:
		case string:
			values.Set(name, v)
		case []byte:
			values.Set(name, string(v))
		case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, fmt.Stringer:
			values.Set(name, fmt.Sprint(v))
		default:
			encoded, err := jsoncodec.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode param %s: %w", name, err)
			}
			values.Set(name, string(encoded))
		}
	}
	return values, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
