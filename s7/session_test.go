package s7

import (
	"bytes"
	"testing"
)

func TestSessionOpenNegotiatesPDULength(t *testing.T) {
	plc := startFakePLC(t, 128)

	sess, err := Open(plc.addr(), FamilyS71200)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Disconnect()

	if got := sess.PDULength(); got != 128 {
		t.Fatalf("PDULength = %d, want 128", got)
	}
	if sess.Closed() {
		t.Fatalf("session reports closed right after Open")
	}
}

func TestSessionOpenSendsDestTSAPForS71200(t *testing.T) {
	plc := startFakePLC(t, 240)

	sess, err := Open(plc.addr(), FamilyS71200)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Disconnect()

	tsap, ok := plc.lastDstTSAP()
	if !ok {
		t.Fatalf("fake PLC did not observe a destination TSAP in the CR")
	}
	if len(tsap) != 2 || tsap[0] != 0x03 || tsap[1] != 0x00 {
		t.Fatalf("dest TSAP = % x, want 03 00 (rack=0, slot=0, ConnectionType.Basic=3)", tsap)
	}
}

func TestSessionDBWriteThenDBRead(t *testing.T) {
	plc := startFakePLC(t, 240)

	sess, err := Open(plc.addr(), FamilyS71200)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Disconnect()

	payload := []byte{0x01, 0x02, 0x03, 0x04, 0xAA}
	if err := sess.DBWrite(1, 10, payload); err != nil {
		t.Fatalf("DBWrite: %v", err)
	}

	got, err := sess.DBRead(1, 10, len(payload))
	if err != nil {
		t.Fatalf("DBRead: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("DBRead = %x, want %x", got, payload)
	}
}

func TestSessionDBWriteBitThenDBReadBit(t *testing.T) {
	plc := startFakePLC(t, 240)

	sess, err := Open(plc.addr(), FamilyS71200)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Disconnect()

	if err := sess.DBWriteBit(2, 0, 3, true); err != nil {
		t.Fatalf("DBWriteBit: %v", err)
	}
	v, err := sess.DBReadBit(2, 0, 3)
	if err != nil {
		t.Fatalf("DBReadBit: %v", err)
	}
	if !v {
		t.Fatalf("bit 3 = false, want true")
	}

	// Neighbouring bit in the same byte must remain false.
	v2, err := sess.DBReadBit(2, 0, 4)
	if err != nil {
		t.Fatalf("DBReadBit(4): %v", err)
	}
	if v2 {
		t.Fatalf("bit 4 = true, want false")
	}

	if err := sess.DBWriteBit(2, 0, 3, false); err != nil {
		t.Fatalf("DBWriteBit clear: %v", err)
	}
	v, err = sess.DBReadBit(2, 0, 3)
	if err != nil {
		t.Fatalf("DBReadBit after clear: %v", err)
	}
	if v {
		t.Fatalf("bit 3 = true after clear, want false")
	}
}

func TestSessionDBReadSplitsAcrossPDUBudget(t *testing.T) {
	// A small negotiated PDU length forces planSingleRead to split a
	// 200-byte read into several round trips against the fake PLC.
	plc := startFakePLC(t, 64)

	pattern := make([]byte, 200)
	for i := range pattern {
		pattern[i] = byte(i)
	}
	plc.seed(5, pattern)

	sess, err := Open(plc.addr(), FamilyS71200)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Disconnect()

	got, err := sess.DBRead(5, 0, len(pattern))
	if err != nil {
		t.Fatalf("DBRead: %v", err)
	}
	if !bytes.Equal(got, pattern) {
		t.Fatalf("DBRead returned %d bytes not matching seeded pattern", len(got))
	}
}

func TestSessionDBReadMulti(t *testing.T) {
	plc := startFakePLC(t, 240)
	plc.seed(1, []byte{0x11, 0x22, 0x33, 0x44})
	plc.seed(2, []byte{0x55, 0x66})

	sess, err := Open(plc.addr(), FamilyS71200)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Disconnect()

	results, err := sess.DBReadMulti([]ReadAccess{
		Bytes(AreaDataBlock, 1, 0, 2),
		Bytes(AreaDataBlock, 2, 0, 2),
	})
	if err != nil {
		t.Fatalf("DBReadMulti: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !bytes.Equal(results[0].Data, []byte{0x11, 0x22}) {
		t.Fatalf("result[0] = %x", results[0].Data)
	}
	if !bytes.Equal(results[1].Data, []byte{0x55, 0x66}) {
		t.Fatalf("result[1] = %x", results[1].Data)
	}
}

func TestSessionDisconnectClosesSession(t *testing.T) {
	plc := startFakePLC(t, 240)

	sess, err := Open(plc.addr(), FamilyS71200)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sess.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if !sess.Closed() {
		t.Fatalf("session not marked closed after Disconnect")
	}

	if _, err := sess.DBRead(1, 0, 1); err == nil {
		t.Fatalf("expected error reading from a closed session")
	}
	// A second Disconnect must not panic or double-count metrics.
	if err := sess.Disconnect(); err != nil {
		t.Fatalf("second Disconnect returned error: %v", err)
	}
}

func TestSessionDBReadBitOutOfRangeRejectedLocally(t *testing.T) {
	plc := startFakePLC(t, 240)

	sess, err := Open(plc.addr(), FamilyS71200)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Disconnect()

	_, err = sess.DBReadBit(1, 0, 9)
	if err == nil {
		t.Fatalf("expected RequestedBitOutOfRangeError")
	}
	if _, ok := err.(*RequestedBitOutOfRangeError); !ok {
		t.Fatalf("err = %T, want *RequestedBitOutOfRangeError", err)
	}
}

func TestSessionDroppedConnectionClosesSession(t *testing.T) {
	plc := startFakePLC(t, 240)

	sess, err := Open(plc.addr(), FamilyS71200)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	plc.dropNextRequest()

	if _, err := sess.DBRead(1, 0, 1); err == nil {
		t.Fatalf("expected error when the server drops the connection mid-request")
	}
	if !sess.Closed() {
		t.Fatalf("session should transition to closed after a transport failure")
	}
}

func TestOpenAgainstClosedListenerFails(t *testing.T) {
	plc := startFakePLC(t, 240)
	plc.ln.Close()

	if _, err := Open(plc.addr(), FamilyS71200); err == nil {
		t.Fatalf("expected dial failure against closed listener")
	}
}
