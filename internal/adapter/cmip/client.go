// Package cmip fetches raw climate-model datasets over HTTP from a
// CMIP6 data service. It is the Fetcher behind the dataset cache:
// transient failures are retried with exponential backoff and a circuit
// breaker sheds load when the service is down for good.
package cmip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/buildenergy/epwmorph/internal/domain"
	"github.com/buildenergy/epwmorph/internal/observability"
)

// Client implements cache.Fetcher against a CMIP6 dataset service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *observability.Metrics
	breaker    *gobreaker.CircuitBreaker
	maxRetries uint64

	// retryInterval overrides the initial backoff interval; zero keeps
	// the library default.
	retryInterval time.Duration
}

// NewClient creates a dataset client. The breaker opens after five
// consecutive failures and probes again after thirty seconds.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "cmip",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:     logger,
		metrics:    metrics,
		breaker:    breaker,
		maxRetries: 3,
	}
}

// FetchDataset downloads one model/pathway/variable dataset. A 404 from
// the service means the model never published that combination and is
// reported as DataUnavailableError without retrying; transient errors
// are retried with exponential backoff under the caller's context.
func (c *Client) FetchDataset(ctx context.Context, key domain.DatasetKey) (*domain.RawDataset, error) {
	start := time.Now()

	var ds *domain.RawDataset
	operation := func() error {
		result, err := c.breaker.Execute(func() (any, error) {
			return c.fetchOnce(ctx, key)
		})
		if err != nil {
			var unavailable *domain.DataUnavailableError
			if errors.As(err, &unavailable) {
				return backoff.Permanent(err)
			}
			if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
				return backoff.Permanent(fmt.Errorf("dataset service unavailable: %w", err))
			}
			return err
		}
		ds = result.(*domain.RawDataset)
		return nil
	}

	exp := backoff.NewExponentialBackOff()
	if c.retryInterval > 0 {
		exp.InitialInterval = c.retryInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, c.maxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("dataset fetch retrying", "key", key.String(), "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		c.metrics.FetchRequests.WithLabelValues("error").Inc()
		var unavailable *domain.DataUnavailableError
		if errors.As(err, &unavailable) {
			return nil, err
		}
		return nil, &domain.DataUnavailableError{Key: key, Err: err}
	}

	c.metrics.FetchRequests.WithLabelValues("success").Inc()
	c.metrics.FetchDuration.Observe(time.Since(start).Seconds())
	c.logger.Debug("dataset fetched", "key", key.String(), "cells", len(ds.Values), "duration", time.Since(start))
	return ds, nil
}

func (c *Client) fetchOnce(ctx context.Context, key domain.DatasetKey) (*domain.RawDataset, error) {
	u := fmt.Sprintf("%s/v1/datasets/%s/%s/%s/%s", c.baseURL, key.Model, key.Pathway, key.Resolution, key.Variable)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dataset request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return nil, &domain.DataUnavailableError{
			Key: key,
			Err: fmt.Errorf("dataset not published"),
		}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("dataset service error: status %d: %s", resp.StatusCode, body)
	}

	var payload datasetResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}

	ds := &domain.RawDataset{
		Key:    key,
		Lats:   payload.Lats,
		Lons:   payload.Lons,
		Times:  payload.Times,
		Values: payload.Values,
	}
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("dataset %s malformed: %w", key.String(), err)
	}
	return ds, nil
}

// Dataset service response types.

type datasetResponse struct {
	Lats   []float64   `json:"lat"`
	Lons   []float64   `json:"lon"`
	Times  []time.Time `json:"time"`   // RFC 3339 timestamps
	Values [][]float64 `json:"values"` // [cell][time], cell = latIdx*len(lon)+lonIdx
}
