package replication

// FieldDelta is one changed field: entity id, the field name, and its
// new value.
type FieldDelta struct {
	EntityID     string
	ChangedField string
	NewValue     float64
}

// Compressor diffs successive reduced snapshots every ~300ms, producing
// the minimal sequence of changed fields. Unchanged entities produce
// nothing; snapshots are swapped atomically after emission.
type Compressor struct {
	previous map[string]ReducedEntity
}

func NewCompressor() *Compressor {
	return &Compressor{previous: map[string]ReducedEntity{}}
}

// Diff compares the current reduced snapshot against the previously
// emitted one and returns the changed fields. It then swaps the stored
// snapshot to current, matching "snapshots are swapped atomically after
// emission."
func (c *Compressor) Diff(current map[string]ReducedEntity) []FieldDelta {
	var out []FieldDelta

	for id, cur := range current {
		prev, existed := c.previous[id]
		if !existed {
			out = append(out,
				FieldDelta{id, "x", cur.X},
				FieldDelta{id, "y", cur.Y},
				FieldDelta{id, "z", cur.Z},
			)
			if cur.HP != 0 {
				out = append(out, FieldDelta{id, "hp", float64(cur.HP)})
			}
			continue
		}
		if cur.X != prev.X {
			out = append(out, FieldDelta{id, "x", cur.X})
		}
		if cur.Y != prev.Y {
			out = append(out, FieldDelta{id, "y", cur.Y})
		}
		if cur.Z != prev.Z {
			out = append(out, FieldDelta{id, "z", cur.Z})
		}
		if cur.HP != prev.HP {
			out = append(out, FieldDelta{id, "hp", float64(cur.HP)})
		}
		if cur.Level != prev.Level {
			out = append(out, FieldDelta{id, "level", float64(cur.Level)})
		}
	}

	for id := range c.previous {
		if _, stillPresent := current[id]; !stillPresent {
			out = append(out, FieldDelta{id, "removed", 1})
		}
	}

	c.previous = current
	return out
}
