package schema

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Provider returns the current schema snapshot.
type Provider interface {
	GetSchema(ctx context.Context) (*Schema, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (*Schema, error)

func (f ProviderFunc) GetSchema(ctx context.Context) (*Schema, error) { return f(ctx) }

// StaticProvider serves a fixed schema.
type StaticProvider struct {
	Schema *Schema
}

func (p StaticProvider) GetSchema(context.Context) (*Schema, error) {
	if p.Schema == nil {
		return nil, fmt.Errorf("schema: static provider has no schema")
	}
	return p.Schema, nil
}

// HTTPProvider fetches the schema with a form POST of format=json and Basic auth.
type HTTPProvider struct {
	URL      string
	Username string
	Password string
	Client   *http.Client
}

// NewHTTPProvider builds an HTTPProvider with a traced client.
func NewHTTPProvider(rawURL, username, password string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		URL:      rawURL,
		Username: username,
		Password: password,
		Client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (p *HTTPProvider) GetSchema(ctx context.Context) (*Schema, error) {
	form := url.Values{"format": {"json"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("schema: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if p.Username != "" || p.Password != "" {
		req.SetBasicAuth(p.Username, p.Password)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("schema: fetch %s: %w", p.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("schema: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("schema: fetch %s: status %d", p.URL, resp.StatusCode)
	}
	return Parse(body)
}

// CachingProvider loads the schema once and serves the snapshot afterwards.
type CachingProvider struct {
	Source Provider

	mu     sync.Mutex
	schema *Schema
}

func (c *CachingProvider) GetSchema(ctx context.Context) (*Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.schema != nil {
		return c.schema, nil
	}
	s, err := c.Source.GetSchema(ctx)
	if err != nil {
		return nil, err
	}
	c.schema = s
	return s, nil
}
