package sqlite

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bft-labs/offsync/internal/domain"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func testItem(id, stream string, offset time.Duration) domain.QueuedItem {
	return domain.QueuedItem{
		ID:        id,
		StreamID:  stream,
		Kind:      domain.KindMessage,
		Payload:   json.RawMessage(`{"text":"` + id + `"}`),
		CreatedAt: testEpoch.Add(offset),
	}
}
