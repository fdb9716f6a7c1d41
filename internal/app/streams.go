package app

import "github.com/bft-labs/offsync/internal/domain"

// stream is the ordered list of pending items sharing a stream id.
type stream struct {
	id    string
	items []domain.QueuedItem
}

// groupByStream splits items into per-stream queues. Items must already be
// in creation order; that order is kept inside each stream, and streams are
// returned in the order their first item appears.
func groupByStream(items []domain.QueuedItem) []stream {
	index := make(map[string]int)
	var streams []stream
	for _, item := range items {
		i, ok := index[item.StreamID]
		if !ok {
			i = len(streams)
			index[item.StreamID] = i
			streams = append(streams, stream{id: item.StreamID})
		}
		streams[i].items = append(streams[i].items, item)
	}
	return streams
}
