package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"evcharge/internal/apperr"
	"evcharge/internal/metrics"

	"github.com/goccy/go-json"
	circuit "github.com/rubyist/circuitbreaker"
)

type httpClient struct {
	baseURL string
	client  *circuit.HTTPClient
}

// NewHTTPClient reads charging points from the catalog API. Consecutive
// failures past threshold open the breaker and fail fast.
func NewHTTPClient(baseURL string, timeout time.Duration, threshold int64) Client {
	return &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  circuit.NewHTTPClient(timeout, threshold, nil),
	}
}

func (c *httpClient) GetChargingPoint(ctx context.Context, id int64) (*ChargingPoint, error) {
	url := fmt.Sprintf("%s/charging-points/%d", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.RecordCatalogLookup("http", "error")
		if errors.Is(err, circuit.ErrBreakerOpen) {
			return nil, apperr.Transient(fmt.Errorf("catalog unavailable: %w", err))
		}
		return nil, apperr.Transient(fmt.Errorf("catalog request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		metrics.RecordCatalogLookup("http", "not_found")
		return nil, ErrChargingPointNotFound
	case resp.StatusCode >= 500:
		metrics.RecordCatalogLookup("http", "error")
		return nil, apperr.Transient(fmt.Errorf("catalog returned status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		metrics.RecordCatalogLookup("http", "error")
		return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var point ChargingPoint
	if err := json.NewDecoder(resp.Body).Decode(&point); err != nil {
		metrics.RecordCatalogLookup("http", "error")
		return nil, fmt.Errorf("failed to decode charging point: %w", err)
	}

	metrics.RecordCatalogLookup("http", "hit")
	return &point, nil
}
