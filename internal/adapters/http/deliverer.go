// Package http implements the remote-facing ports over HTTP.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/bft-labs/offsync/internal/domain"
	"github.com/bft-labs/offsync/internal/ports"
)

// DefaultEndpoints maps item kinds to remote paths.
var DefaultEndpoints = map[string]string{
	domain.KindMessage:        "/api/sync-message",
	domain.KindAnalyticsEvent: "/api/analytics-sync",
}

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// DelivererConfig configures the HTTP deliverer.
type DelivererConfig struct {
	// BaseURL is the remote origin, e.g. "https://api.example.com".
	BaseURL string

	// AuthKey is sent as a bearer token when non-empty.
	AuthKey string

	// Endpoints maps item kinds to paths. Kinds missing from the map fall
	// back to DefaultEndpoints.
	Endpoints map[string]string
}

// Deliverer implements ports.Deliverer using HTTP POST.
type Deliverer struct {
	client ports.HTTPClient
	config DelivererConfig
	logger ports.Logger
}

var _ ports.Deliverer = (*Deliverer)(nil)

// NewDeliverer creates a new HTTP deliverer.
func NewDeliverer(client ports.HTTPClient, config DelivererConfig, logger ports.Logger) *Deliverer {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Deliverer{
		client: client,
		config: config,
		logger: logger,
	}
}

// wireItem is the JSON body posted for each item.
type wireItem struct {
	ID        string          `json:"id"`
	StreamID  string          `json:"stream_id"`
	Kind      string          `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Endpoint returns the path an item of the given kind is posted to.
func (d *Deliverer) Endpoint(kind string) (string, bool) {
	if p, ok := d.config.Endpoints[kind]; ok && p != "" {
		return p, true
	}
	p, ok := DefaultEndpoints[kind]
	return p, ok
}

// Deliver posts the item to the endpoint for its kind.
func (d *Deliverer) Deliver(ctx context.Context, item domain.QueuedItem) (ports.Receipt, error) {
	path, ok := d.Endpoint(item.Kind)
	if !ok {
		return ports.Receipt{}, fmt.Errorf("%w: no endpoint for kind %q", domain.ErrMalformedPayload, item.Kind)
	}

	body, err := json.Marshal(wireItem{
		ID:        item.ID,
		StreamID:  item.StreamID,
		Kind:      item.Kind,
		CreatedAt: item.CreatedAt,
		Payload:   item.Payload,
	})
	if err != nil {
		return ports.Receipt{}, fmt.Errorf("%w: marshal item: %w", domain.ErrMalformedPayload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return ports.Receipt{}, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", item.ID)
	req.Header.Set("X-Offsync-Stream", item.StreamID)
	req.Header.Set("X-Offsync-OSArch", runtime.GOOS+"/"+runtime.GOARCH)
	if d.config.AuthKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.config.AuthKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return ports.Receipt{}, fmt.Errorf("%w: send request: %w", domain.ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	return d.classify(item, resp)
}

// classify maps the response status to a receipt or a typed error.
func (d *Deliverer) classify(item domain.QueuedItem, resp *http.Response) (ports.Receipt, error) {
	receipt := ports.Receipt{StatusCode: resp.StatusCode}

	switch {
	case resp.StatusCode == http.StatusConflict:
		// The remote already holds an item with this idempotency key.
		receipt.Duplicate = true
		io.Copy(io.Discard, resp.Body)
		return receipt, nil

	case resp.StatusCode/100 == 2:
		var ack struct {
			ID string `json:"id"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if len(data) > 0 && json.Unmarshal(data, &ack) == nil && ack.ID != item.ID {
			receipt.RemoteID = ack.ID
		}
		return receipt, nil

	// An expired or missing credential is the client's state, not the
	// item's, so the item waits for the next pass.
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return receipt, fmt.Errorf("%w: server returned %d: %s",
			domain.ErrDeliveryFailed, resp.StatusCode, readSnippet(resp.Body))

	default:
		d.logger.Debug("remote rejected item",
			ports.String("id", item.ID),
			ports.Int("status", resp.StatusCode),
		)
		return receipt, fmt.Errorf("%w: server returned %d: %s",
			domain.ErrMalformedPayload, resp.StatusCode, readSnippet(resp.Body))
	}
}

func readSnippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(data))
}
