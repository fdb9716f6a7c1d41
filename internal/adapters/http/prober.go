package http

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bft-labs/offsync/internal/domain"
	"github.com/bft-labs/offsync/internal/ports"
)

// Prober checks reachability with a HEAD request. Any HTTP response counts
// as reachable; only transport failures do not.
type Prober struct {
	client ports.HTTPClient
	url    string
}

var _ ports.Prober = (*Prober)(nil)

// NewProber creates a prober for the given URL.
func NewProber(client ports.HTTPClient, url string) *Prober {
	return &Prober{client: client, url: url}
}

// Probe performs the round-trip.
func (p *Prober) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: probe %s: %w", domain.ErrDeliveryFailed, p.url, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}
