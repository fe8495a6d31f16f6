package overpass

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/access-atlas/atlas/internal/geo"
	"github.com/access-atlas/atlas/internal/resilience"
)

var (
	// ErrSourceUnavailable covers transport failures, 5xx responses,
	// undecodable bodies and an open circuit.
	ErrSourceUnavailable = eris.New("overpass: source unavailable")

	// ErrSourceRateLimited is returned when the source kept answering 429
	// after every retry.
	ErrSourceRateLimited = eris.New("overpass: source rate limited")
)

// SourceError pairs one of the sentinel kinds with the underlying cause so
// errors.Is matches both.
type SourceError struct {
	Kind error
	Err  error
}

func (e *SourceError) Error() string {
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *SourceError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// DefaultEndpoint is the public Overpass interpreter.
const DefaultEndpoint = "https://overpass-api.de/api/interpreter"

// maxBodyBytes bounds a single response body.
const maxBodyBytes = 64 << 20

// Options configures a Client.
type Options struct {
	Endpoint      string
	UserAgent     string
	Timeout       time.Duration
	ServerTimeout int
	Retry         resilience.RetryConfig
	Breaker       resilience.CircuitBreakerConfig
	HTTPClient    *http.Client
}

// Client fetches elements from Overpass. It is safe for concurrent use; all
// requests pass through the same Gate.
type Client struct {
	endpoint      string
	userAgent     string
	serverTimeout int
	http          *http.Client
	gate          Gate
	retry         resilience.RetryConfig
	breaker       *resilience.CircuitBreaker
	log           *zap.Logger
}

// NewClient creates a Client. A nil gate admits one request per second.
func NewClient(opts Options, gate Gate) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "atlas/1.0"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ServerTimeout <= 0 {
		opts.ServerTimeout = int(opts.Timeout / time.Second)
	}
	if gate == nil {
		gate = NewIntervalGate(time.Second)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	log := zap.L().With(zap.String("component", "overpass"))
	retry := opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("overpass", "fetch_area")
	}
	breakerCfg := opts.Breaker
	if breakerCfg.OnStateChange == nil {
		breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
			log.Warn("circuit state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		}
	}

	return &Client{
		endpoint:      opts.Endpoint,
		userAgent:     opts.UserAgent,
		serverTimeout: opts.ServerTimeout,
		http:          httpClient,
		gate:          gate,
		retry:         retry,
		breaker:       resilience.NewCircuitBreaker(breakerCfg),
		log:           log,
	}
}

// FetchArea returns the raw elements within radiusMeters of center, in the
// order the provider returned them. Failures are reported as
// ErrSourceUnavailable or ErrSourceRateLimited.
func (c *Client) FetchArea(ctx context.Context, center geo.Point, radiusMeters float64) ([]Element, error) {
	query := BuildQuery(center, radiusMeters, c.serverTimeout)
	start := time.Now()

	elements, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) ([]Element, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]Element, error) {
			if err := c.gate.Wait(ctx); err != nil {
				return nil, err
			}
			return c.do(ctx, query)
		})
	})
	if err != nil {
		return nil, c.classify(ctx, err)
	}

	c.log.Info("fetched area",
		zap.Float64("lat", center.Lat),
		zap.Float64("lng", center.Lng),
		zap.Float64("radius_m", radiusMeters),
		zap.Int("elements", len(elements)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return elements, nil
}

func (c *Client) do(ctx context.Context, query string) ([]Element, error) {
	form := url.Values{"data": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "overpass: build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(err, "overpass: request")
		}
		return nil, resilience.NewTransientError(eris.Wrap(err, "overpass: request"), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := eris.Errorf("overpass: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, &resilience.TransientError{
				Err:        statusErr,
				StatusCode: resp.StatusCode,
				RetryAfter: resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			}
		}
		return nil, statusErr
	}

	var body response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, eris.Wrap(err, "overpass: decode response")
	}
	// Overpass reports query timeouts and memory exhaustion as a 200 with a
	// runtime error remark and a truncated element list.
	if strings.Contains(body.Remark, "runtime error") {
		return nil, resilience.NewTransientError(eris.Errorf("overpass: %s", body.Remark), http.StatusOK)
	}
	if body.Elements == nil {
		body.Elements = []Element{}
	}
	return body.Elements, nil
}

func (c *Client) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	var te *resilience.TransientError
	if errors.As(err, &te) && te.StatusCode == http.StatusTooManyRequests {
		return &SourceError{Kind: ErrSourceRateLimited, Err: err}
	}
	return &SourceError{Kind: ErrSourceUnavailable, Err: err}
}

// BreakerState reports the circuit state, for health checks.
func (c *Client) BreakerState() resilience.CircuitState {
	return c.breaker.State()
}
