package s7

import "sync"

// EdgeKind classifies a trigger transition for a TriggerSink.
type EdgeKind int

const (
	EdgeNone EdgeKind = iota
	EdgePositive
	EdgeNegative
)

func (e EdgeKind) String() string {
	switch e {
	case EdgePositive:
		return "positive"
	case EdgeNegative:
		return "negative"
	default:
		return "none"
	}
}

// TriggerSink receives trigger edges as they are observed by Update. The
// MQTT edge publisher implements this.
type TriggerSink interface {
	Publish(id string, edge EdgeKind) error
}

// plcBool tracks one observed boolean across successive polls.
type plcBool struct {
	value          bool
	lastKnownValue bool
}

func newPLCBool(start bool) plcBool {
	return plcBool{value: start, lastKnownValue: start}
}

func (b *plcBool) update(newValue bool) {
	b.lastKnownValue = b.value
	b.value = newValue
}

func (b plcBool) positiveFlank() bool { return b.value && !b.lastKnownValue }
func (b plcBool) negativeFlank() bool { return !b.value && b.lastKnownValue }

// TriggerCollection polls a set of Bit ReadAccesses through a Pool and
// classifies each boolean's transition between successive updates (§4.8).
type TriggerCollection struct {
	mu sync.Mutex

	pool   *Pool
	ids    []string
	access []ReadAccess
	values map[string]plcBool

	sink TriggerSink
}

// NewTriggerCollection builds a TriggerCollection from a set of
// (trigger_id, Bit ReadAccess) pairs. Construction fails with
// InvalidTriggerCollectionError if any access is of Bytes shape.
func NewTriggerCollection(pool *Pool, triggers []Trigger) (*TriggerCollection, error) {
	ids := make([]string, len(triggers))
	accesses := make([]ReadAccess, len(triggers))
	values := make(map[string]plcBool, len(triggers))

	for i, t := range triggers {
		if !t.Access.IsBit() {
			return nil, &InvalidTriggerCollectionError{ID: t.ID}
		}
		ids[i] = t.ID
		accesses[i] = t.Access
		values[t.ID] = newPLCBool(false)
	}

	return &TriggerCollection{
		pool:   pool,
		ids:    ids,
		access: accesses,
		values: values,
	}, nil
}

// Trigger pairs a caller-chosen identifier with the Bit ReadAccess it
// polls.
type Trigger struct {
	ID     string
	Access ReadAccess
}

// WithSink attaches a TriggerSink that receives every non-None edge
// observed during Update.
func (t *TriggerCollection) WithSink(sink TriggerSink) *TriggerCollection {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = sink
	return t
}

// Update issues a single multi-read through the pool and advances every
// tracked boolean's current/previous state.
func (t *TriggerCollection) Update() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	results, err := t.pool.DBReadMulti(t.access)
	if err != nil {
		return err
	}

	for i, r := range results {
		if r.Err != nil {
			continue
		}
		id := t.ids[i]
		b := len(r.Data) > 0 && r.Data[0] > 0
		pb := t.values[id]
		pb.update(b)
		t.values[id] = pb

		if t.sink == nil {
			continue
		}
		switch {
		case pb.positiveFlank():
			t.sink.Publish(id, EdgePositive)
		case pb.negativeFlank():
			t.sink.Publish(id, EdgeNegative)
		}
	}
	return nil
}

// PositiveFlank reports whether id transitioned false→true on the last
// Update. ok is false if id is not part of the collection.
func (t *TriggerCollection) PositiveFlank(id string) (flank, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pb, found := t.values[id]
	if !found {
		return false, false
	}
	return pb.positiveFlank(), true
}

// NegativeFlank reports whether id transitioned true→false on the last
// Update. ok is false if id is not part of the collection.
func (t *TriggerCollection) NegativeFlank(id string) (flank, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pb, found := t.values[id]
	if !found {
		return false, false
	}
	return pb.negativeFlank(), true
}
