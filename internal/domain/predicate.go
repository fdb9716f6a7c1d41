package domain

// Field names usable in a Predicate. Each is backed by a store index.
const (
	FieldDelivered   = "delivered"
	FieldStreamID    = "stream_id"
	FieldKind        = "kind"
	FieldQuarantined = "quarantined"
)

// Predicate is an equality test on an indexed item field.
type Predicate struct {
	Field string
	Value any
}

func DeliveredIs(v bool) Predicate   { return Predicate{Field: FieldDelivered, Value: v} }
func QuarantinedIs(v bool) Predicate { return Predicate{Field: FieldQuarantined, Value: v} }
func StreamIs(id string) Predicate   { return Predicate{Field: FieldStreamID, Value: id} }
func KindIs(kind string) Predicate   { return Predicate{Field: FieldKind, Value: kind} }

// Matches evaluates the predicate against an item. Unknown fields never match.
func (p Predicate) Matches(item QueuedItem) bool {
	switch p.Field {
	case FieldDelivered:
		v, ok := p.Value.(bool)
		return ok && item.Delivered == v
	case FieldQuarantined:
		v, ok := p.Value.(bool)
		return ok && item.Quarantined == v
	case FieldStreamID:
		v, ok := p.Value.(string)
		return ok && item.StreamID == v
	case FieldKind:
		v, ok := p.Value.(string)
		return ok && item.Kind == v
	}
	return false
}

// MatchAll reports whether every predicate matches.
func MatchAll(item QueuedItem, preds []Predicate) bool {
	for _, p := range preds {
		if !p.Matches(item) {
			return false
		}
	}
	return true
}
