package irail

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michiel-rondelez/challenge-azure/internal/config"
	"github.com/michiel-rondelez/challenge-azure/internal/logging"
)

const oostendeLiveboard = `{
	"station": "Brussels-Central",
	"stationinfo": {"id": "BE.NMBS.008813003", "name": "Brussels-Central", "standardname": "Brussel-Centraal"},
	"departures": {
		"number": "1",
		"departure": [{
			"id": "1",
			"station": "Oostende",
			"time": "1704106800",
			"delay": "180",
			"canceled": "0",
			"left": 0,
			"vehicle": "BE.NMBS.IC1832",
			"platform": "3",
			"platforminfo": {"name": "3", "normal": "1"},
			"occupancy": {"@id": "http://api.irail.be/terms/low", "name": "low"}
		}]
	}
}`

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	return NewClient(&config.Config{
		IRailBaseURL:        url,
		IRailUserAgent:      "irail-test/1.0",
		IRailLang:           "en",
		RequestTimeout:      time.Second,
		FetchMaxAttempts:    3,
		RateLimitBackoff:    2 * time.Millisecond,
		TransientRetryDelay: time.Millisecond,
	}, logging.Discard())
}

// countingServer replies with statuses in order, repeating the last one.
func countingServer(t *testing.T, body string, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1))
		status := statuses[len(statuses)-1]
		if n <= len(statuses) {
			status = statuses[n-1]
		}
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(body))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetchLiveboard_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/liveboard/", r.URL.Path)
		assert.Equal(t, "Brussels-Central", r.URL.Query().Get("station"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "true", r.URL.Query().Get("fast"))
		assert.Equal(t, "en", r.URL.Query().Get("lang"))
		assert.Equal(t, "irail-test/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(oostendeLiveboard))
	}))
	defer srv.Close()

	board, err := newTestClient(t, srv.URL).FetchLiveboard(context.Background(), "Brussels-Central")
	require.NoError(t, err)
	deps := board.Departures
	require.Len(t, deps, 1)

	assert.Equal(t, "Brussel-Centraal", board.StandardName())

	d := deps[0]
	assert.Equal(t, "1", d.ID.String())
	assert.Equal(t, "1704106800", d.Time.String())
	assert.Equal(t, "180", d.Delay.String())
	assert.Equal(t, "0", d.Left.String())
	assert.Equal(t, "Oostende", d.Station.String())
	assert.Equal(t, "1", d.PlatformInfo.Normal.String())

	occ, ok := d.OccupancyName()
	assert.True(t, ok)
	assert.Equal(t, "low", occ)
}

func TestFetchLiveboard_EmptyBoard(t *testing.T) {
	srv, _ := countingServer(t, `{"station":"Tiny","departures":{"number":"0"}}`, http.StatusOK)

	board, err := newTestClient(t, srv.URL).FetchLiveboard(context.Background(), "Tiny")
	require.NoError(t, err)
	assert.Empty(t, board.Departures)
	assert.Equal(t, "Tiny", board.StandardName(), "falls back to the requested name")
}

func TestFetchLiveboard_RateLimitExhausted(t *testing.T) {
	srv, hits := countingServer(t, "", http.StatusTooManyRequests)

	start := time.Now()
	_, err := newTestClient(t, srv.URL).FetchLiveboard(context.Background(), "Gent-Sint-Pieters")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.GreaterOrEqual(t, elapsed, 6*time.Millisecond, "waits 2 then 4 units")

	var stationErr *StationError
	require.ErrorAs(t, err, &stationErr)
	assert.Equal(t, "Gent-Sint-Pieters", stationErr.Station)
	assert.Equal(t, 3, stationErr.Attempts)

	var rl *RateLimitError
	assert.ErrorAs(t, err, &rl)
}

func TestFetchLiveboard_RecoversAfterRateLimit(t *testing.T) {
	srv, hits := countingServer(t, oostendeLiveboard, http.StatusTooManyRequests, http.StatusOK)

	board, err := newTestClient(t, srv.URL).FetchLiveboard(context.Background(), "Brussels-Central")
	require.NoError(t, err)
	deps := board.Departures
	assert.Len(t, deps, 1)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchLiveboard_TransientThenSuccess(t *testing.T) {
	srv, hits := countingServer(t, oostendeLiveboard,
		http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusOK)

	board, err := newTestClient(t, srv.URL).FetchLiveboard(context.Background(), "Brussels-Central")
	require.NoError(t, err)
	deps := board.Departures
	assert.Len(t, deps, 1)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchLiveboard_TransientExhausted(t *testing.T) {
	srv, hits := countingServer(t, "", http.StatusInternalServerError)

	_, err := newTestClient(t, srv.URL).FetchLiveboard(context.Background(), "Leuven")
	require.Error(t, err)
	assert.Equal(t, int32(3), hits.Load())

	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
}

func TestFetchLiveboard_RequestTimeoutIsTransient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-time.After(500 * time.Millisecond):
			case <-r.Context().Done():
			}
			return
		}
		_, _ = w.Write([]byte(oostendeLiveboard))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.client.Timeout = 50 * time.Millisecond

	board, err := c.FetchLiveboard(context.Background(), "Brussels-Central")
	require.NoError(t, err)
	deps := board.Departures
	assert.Len(t, deps, 1)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetchLiveboard_PermanentErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unknown station",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, http.StatusNotFound, se.StatusCode)
			},
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			body:   `{"departures": {"departure": "nope"`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrMalformedResponse)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, hits := countingServer(t, tt.body, tt.status)

			_, err := newTestClient(t, srv.URL).FetchLiveboard(context.Background(), "Nowhere")
			require.Error(t, err)
			assert.Equal(t, int32(1), hits.Load(), "permanent errors are not retried")

			var stationErr *StationError
			require.ErrorAs(t, err, &stationErr)
			assert.Equal(t, 1, stationErr.Attempts)
			tt.check(t, err)
		})
	}
}

func TestFetchLiveboard_CancelDuringBackoff(t *testing.T) {
	srv, hits := countingServer(t, "", http.StatusTooManyRequests)

	c := newTestClient(t, srv.URL)
	c.policy.RateLimitBase = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := c.FetchLiveboard(ctx, "Brussels-Central")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchStations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stations/", r.URL.Path)
		_, _ = w.Write([]byte(`{"station": [
			{"id": "BE.NMBS.008813003", "name": "Brussels-Central", "standardname": "Brussel-Centraal",
			 "locationX": "4.357487", "locationY": "50.845466"},
			{"id": "BE.NMBS.008821006", "name": "Antwerp-Central", "standardname": "Antwerpen-Centraal",
			 "locationX": 4.421101, "locationY": 51.217158}
		]}`))
	}))
	defer srv.Close()

	stations, err := newTestClient(t, srv.URL).FetchStations(context.Background())
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.Equal(t, "Brussel-Centraal", stations[0].StandardName)
	assert.Equal(t, "BE.NMBS.008813003", stations[0].ID)
	assert.Equal(t, "4.421101", stations[1].LocationX.String())
}

func TestStationBackOff_Sequence(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, RateLimitBase: 2 * time.Millisecond, TransientDelay: time.Millisecond}

	b := &stationBackOff{policy: policy}
	bo := b.build(context.Background())
	bo.Reset()

	b.lastErr = &RateLimitError{Resource: "x"}
	assert.Equal(t, 2*time.Millisecond, bo.NextBackOff())
	assert.Equal(t, 4*time.Millisecond, bo.NextBackOff())
	assert.Equal(t, backoff.Stop, bo.NextBackOff(), "three attempts in total")

	bo.Reset()
	b.lastErr = &TransientError{Resource: "x", StatusCode: 503}
	assert.Equal(t, time.Millisecond, bo.NextBackOff())
	assert.Equal(t, time.Millisecond, bo.NextBackOff())
	assert.Equal(t, backoff.Stop, bo.NextBackOff())
}

func TestStationBackOff_SingleAttempt(t *testing.T) {
	b := &stationBackOff{policy: RetryPolicy{MaxAttempts: 1, TransientDelay: time.Millisecond}}
	assert.Equal(t, backoff.Stop, b.build(context.Background()).NextBackOff())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&RateLimitError{}))
	assert.True(t, IsRetryable(&TransientError{Err: errors.New("reset")}))
	assert.False(t, IsRetryable(&StatusError{StatusCode: 400}))
	assert.False(t, IsRetryable(ErrMalformedResponse))
	assert.False(t, IsRetryable(context.Canceled))
}
