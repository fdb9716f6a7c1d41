package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/offsync/internal/domain"
	"github.com/bft-labs/offsync/pkg/log"
)

func testItem() domain.QueuedItem {
	return domain.QueuedItem{
		ID:        "m1",
		StreamID:  "c1",
		Kind:      domain.KindMessage,
		Payload:   json.RawMessage(`{"text":"hello"}`),
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestDeliverer_PostsItem(t *testing.T) {
	var got wireItem
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/sync-message", r.URL.Path)
		assert.Equal(t, "m1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"srv-9"}`))
	}))
	defer server.Close()

	d := NewDeliverer(server.Client(), DelivererConfig{BaseURL: server.URL + "/", AuthKey: "secret"}, log.NewNoopLogger())
	receipt, err := d.Deliver(context.Background(), testItem())

	require.NoError(t, err)
	assert.Equal(t, "srv-9", receipt.RemoteID)
	assert.Equal(t, "c1", got.StreamID)
	assert.JSONEq(t, `{"text":"hello"}`, string(got.Payload))
}

func TestDeliverer_Classification(t *testing.T) {
	tests := []struct {
		status  int
		wantErr error
		dup     bool
	}{
		{http.StatusOK, nil, false},
		{http.StatusConflict, nil, true},
		{http.StatusBadRequest, domain.ErrMalformedPayload, false},
		{http.StatusUnprocessableEntity, domain.ErrMalformedPayload, false},
		{http.StatusUnauthorized, domain.ErrDeliveryFailed, false},
		{http.StatusForbidden, domain.ErrDeliveryFailed, false},
		{http.StatusRequestTimeout, domain.ErrDeliveryFailed, false},
		{http.StatusTooManyRequests, domain.ErrDeliveryFailed, false},
		{http.StatusInternalServerError, domain.ErrDeliveryFailed, false},
		{http.StatusServiceUnavailable, domain.ErrDeliveryFailed, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			d := NewDeliverer(server.Client(), DelivererConfig{BaseURL: server.URL}, log.NewNoopLogger())
			receipt, err := d.Deliver(context.Background(), testItem())

			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, tt.dup, receipt.Duplicate)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDeliverer_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	d := NewDeliverer(http.DefaultClient, DelivererConfig{BaseURL: url}, log.NewNoopLogger())
	_, err := d.Deliver(context.Background(), testItem())
	assert.ErrorIs(t, err, domain.ErrDeliveryFailed)
}

func TestDeliverer_EndpointOverrideAndUnknownKind(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/v2/events", r.URL.Path)
	}))
	defer server.Close()

	d := NewDeliverer(server.Client(), DelivererConfig{
		BaseURL:   server.URL,
		Endpoints: map[string]string{domain.KindAnalyticsEvent: "/v2/events"},
	}, log.NewNoopLogger())

	item := testItem()
	item.Kind = domain.KindAnalyticsEvent
	_, err := d.Deliver(context.Background(), item)
	require.NoError(t, err)

	item.Kind = "unknown"
	_, err = d.Deliver(context.Background(), item)
	assert.True(t, errors.Is(err, domain.ErrMalformedPayload))
	assert.EqualValues(t, 1, hits.Load())
}

func TestProber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	p := NewProber(server.Client(), server.URL)
	assert.NoError(t, p.Probe(context.Background()), "any response means reachable")

	server.Close()
	assert.ErrorIs(t, p.Probe(context.Background()), domain.ErrDeliveryFailed)
}
