package replication

// EntityKey identifies an entity for the purpose of batching per-tick
// deltas, keyed by (kind, id).
type EntityKey struct {
	Kind EntityKind
	ID   string
}

// Batcher collects per-entity field deltas during a tick and flushes them
// as a single batched message on each Flush call. The room flushes it with
// the delta broadcast every 5th tick; there is no separate 10Hz timer.
// A delta arriving for an
// already-pending key within the same window is merged field-by-field,
// newer value wins.
type Batcher struct {
	pending map[EntityKey]map[string]any
	order   []EntityKey
}

func NewBatcher() *Batcher {
	return &Batcher{pending: make(map[EntityKey]map[string]any)}
}

// Stage records a field change for an entity, to be delivered on the
// next Flush.
func (b *Batcher) Stage(kind EntityKind, id string, field string, value any) {
	key := EntityKey{Kind: kind, ID: id}
	fields, ok := b.pending[key]
	if !ok {
		fields = make(map[string]any)
		b.pending[key] = fields
		b.order = append(b.order, key)
	}
	fields[field] = value // newer wins
}

// BatchedUpdate is one entity's merged field set, ready for the wire.
type BatchedUpdate struct {
	Kind   EntityKind     `json:"kind"`
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Flush drains the pending set as a single ordered batch and resets for
// the next window. Returns nil (not an empty, non-nil slice) when there
// is nothing pending, so callers can skip sending an empty batch message.
func (b *Batcher) Flush() []BatchedUpdate {
	if len(b.order) == 0 {
		return nil
	}
	out := make([]BatchedUpdate, 0, len(b.order))
	for _, key := range b.order {
		out = append(out, BatchedUpdate{Kind: key.Kind, ID: key.ID, Fields: b.pending[key]})
	}
	b.pending = make(map[EntityKey]map[string]any)
	b.order = nil
	return out
}

// Pending reports how many distinct entities currently have staged
// changes, for monitoring.
func (b *Batcher) Pending() int { return len(b.order) }
