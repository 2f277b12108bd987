package irail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/michiel-rondelez/challenge-azure/internal/config"
)

// Client talks to the iRail API.
type Client struct {
	baseURL   string
	userAgent string
	lang      string
	client    *http.Client
	policy    RetryPolicy
	logger    *slog.Logger
}

// NewClient creates a client from service configuration.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	base := cfg.IRailBaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	return &Client{
		baseURL:   base,
		userAgent: cfg.IRailUserAgent,
		lang:      cfg.IRailLang,
		client: &http.Client{
			Timeout: timeout,
		},
		policy: PolicyFromConfig(cfg),
		logger: logger,
	}
}

// FetchLiveboard returns the departures currently listed for a station.
// Any failure is returned as a *StationError.
func (c *Client) FetchLiveboard(ctx context.Context, station string) (*Liveboard, error) {
	params := url.Values{
		"station": {station},
		"format":  {"json"},
		"fast":    {"true"},
	}
	if c.lang != "" {
		params.Set("lang", c.lang)
	}

	board, attempts, err := retry(ctx, c, station, func(ctx context.Context) (*Liveboard, error) {
		var resp liveboardResponse
		if err := c.get(ctx, "liveboard/", params, station, &resp); err != nil {
			return nil, err
		}
		return &Liveboard{
			Station:     station,
			StationInfo: resp.StationInfo,
			Departures:  resp.Departures.Departure,
		}, nil
	})
	if err != nil {
		return nil, &StationError{Station: station, Attempts: attempts, Err: err}
	}
	return board, nil
}

// FetchStations returns the full station directory.
func (c *Client) FetchStations(ctx context.Context) ([]RawStation, error) {
	params := url.Values{"format": {"json"}}
	if c.lang != "" {
		params.Set("lang", c.lang)
	}

	stations, _, err := retry(ctx, c, "stations", func(ctx context.Context) ([]RawStation, error) {
		var resp stationsResponse
		if err := c.get(ctx, "stations/", params, "stations", &resp); err != nil {
			return nil, err
		}
		return resp.Station, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch stations: %w", err)
	}
	return stations, nil
}

// retry runs op under the client's retry policy and reports the number of
// attempts made. Non-retryable errors end the loop immediately.
func retry[T any](ctx context.Context, c *Client, resource string, op func(context.Context) (T, error)) (T, int, error) {
	b := &stationBackOff{policy: c.policy}
	attempts := 0

	operation := func() (T, error) {
		attempts++
		res, err := op(ctx)
		b.lastErr = err
		if err != nil && !IsRetryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	notify := func(err error, delay time.Duration) {
		c.logger.Warn("retrying iRail request",
			slog.String("resource", resource),
			slog.Int("attempt", attempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
	}

	res, err := backoff.RetryNotifyWithData(operation, b.build(ctx), notify)
	return res, attempts, err
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, resource string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransientError{Resource: resource, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{Resource: resource}
	case resp.StatusCode >= 500:
		return &TransientError{Resource: resource, StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return &StatusError{Resource: resource, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransientError{Resource: resource, Err: err}
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, resource, err)
	}
	return nil
}
