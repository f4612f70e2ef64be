package s7

import "testing"

func TestNewTriggerCollectionRejectsByteAccess(t *testing.T) {
	triggers := []Trigger{
		{ID: "bad", Access: Bytes(AreaDataBlock, 1, 0, 2)},
	}
	_, err := NewTriggerCollection(nil, triggers)
	if err == nil {
		t.Fatalf("expected InvalidTriggerCollectionError for a Bytes access")
	}
	ite, ok := err.(*InvalidTriggerCollectionError)
	if !ok {
		t.Fatalf("err = %T, want *InvalidTriggerCollectionError", err)
	}
	if ite.ID != "bad" {
		t.Fatalf("ID = %q, want %q", ite.ID, "bad")
	}
}

func TestNewTriggerCollectionAcceptsBitAccesses(t *testing.T) {
	triggers := []Trigger{
		{ID: "a", Access: BitAccess(AreaDataBlock, 1, 0, 0)},
		{ID: "b", Access: BitAccess(AreaDataBlock, 1, 0, 1)},
	}
	tc, err := NewTriggerCollection(nil, triggers)
	if err != nil {
		t.Fatalf("NewTriggerCollection: %v", err)
	}
	if len(tc.ids) != 2 {
		t.Fatalf("got %d tracked ids, want 2", len(tc.ids))
	}
}

func TestUnknownIDReportsNotFound(t *testing.T) {
	tc, err := NewTriggerCollection(nil, []Trigger{
		{ID: "a", Access: BitAccess(AreaDataBlock, 1, 0, 0)},
	})
	if err != nil {
		t.Fatalf("NewTriggerCollection: %v", err)
	}

	if _, ok := tc.PositiveFlank("nope"); ok {
		t.Fatalf("expected ok=false for an id outside the collection")
	}
	if _, ok := tc.NegativeFlank("nope"); ok {
		t.Fatalf("expected ok=false for an id outside the collection")
	}
}

func TestPLCBoolFlankSemantics(t *testing.T) {
	b := newPLCBool(false)
	if b.positiveFlank() || b.negativeFlank() {
		t.Fatalf("fresh plcBool should report no flank")
	}

	b.update(true)
	if !b.positiveFlank() {
		t.Fatalf("false->true should report a positive flank")
	}
	if b.negativeFlank() {
		t.Fatalf("false->true must not report a negative flank")
	}

	b.update(true)
	if b.positiveFlank() || b.negativeFlank() {
		t.Fatalf("true->true should report no flank")
	}

	b.update(false)
	if !b.negativeFlank() {
		t.Fatalf("true->false should report a negative flank")
	}
	if b.positiveFlank() {
		t.Fatalf("true->false must not report a positive flank")
	}
}

func TestTriggerCollectionKnownIDStartsWithNoFlank(t *testing.T) {
	tc, err := NewTriggerCollection(nil, []Trigger{
		{ID: "a", Access: BitAccess(AreaDataBlock, 1, 0, 0)},
	})
	if err != nil {
		t.Fatalf("NewTriggerCollection: %v", err)
	}

	pos, ok := tc.PositiveFlank("a")
	if !ok {
		t.Fatalf("expected ok=true for a known id")
	}
	if pos {
		t.Fatalf("expected no flank before the first Update")
	}
}
