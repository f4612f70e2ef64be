package s7

import (
	"fmt"
	"net"
	"sync"
	"time"

	"warlink/logging"
)

// Session owns one TCP connection and its negotiated S7 parameters. It is
// not safe for concurrent use: callers must serialize requests on a
// single Session (§5 "Ownership").
type Session struct {
	mu sync.Mutex

	conn   net.Conn
	addr   string
	family Family
	rack   int
	slot   int

	pduLength    int
	maxAMQCaller uint16
	maxAMQCallee uint16

	pduRef uint16
	closed bool

	metrics *Metrics
}

// Open dials addr (host or host:port, default port 102) and performs the
// COTP + S7 handshake for the given PLC family (§4.3).
func Open(addr string, family Family) (*Session, error) {
	return OpenWithTimeout(addr, family, ConnectTimeout)
}

// OpenWithTimeout is Open with an explicit dial timeout.
func OpenWithTimeout(addr string, family Family, timeout time.Duration) (*Session, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		addr = fmt.Sprintf("%s:%d", addr, DefaultPort)
	} else if port == "" {
		addr = fmt.Sprintf("%s:%d", host, DefaultPort)
	}

	logging.DebugConnect("S7", addr)

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		logging.DebugConnectError("S7", addr, err)
		return nil, &ConnectionError{Reason: err.Error()}
	}

	rack, slot := family.RackSlot()
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, &ConnectionError{Reason: err.Error()}
	}

	if err := cotpConnect(conn, rack, slot); err != nil {
		conn.Close()
		logging.DebugError("S7", "COTP connect", err)
		return nil, err
	}
	negotiated, err := s7SetupComm(conn)
	if err != nil {
		conn.Close()
		logging.DebugError("S7", "S7 setup communication", err)
		return nil, err
	}
	conn.SetDeadline(time.Time{})

	logging.DebugConnectSuccess("S7", addr, fmt.Sprintf("rack=%d, slot=%d, pdu=%d", rack, slot, negotiated.PDULength))

	return &Session{
		conn:         conn,
		addr:         addr,
		family:       family,
		rack:         rack,
		slot:         slot,
		pduLength:    int(negotiated.PDULength),
		maxAMQCaller: negotiated.MaxAMQCaller,
		maxAMQCallee: negotiated.MaxAMQCallee,
	}, nil
}

// WithMetrics attaches an (optionally nil) Metrics bundle to the session.
func (s *Session) WithMetrics(m *Metrics) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
	if m != nil {
		m.sessionOpened()
	}
	return s
}

// PDULength returns the negotiated maximum PDU length.
func (s *Session) PDULength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pduLength
}

// Closed reports whether the session has transitioned to the Closed
// state (§4.6).
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Disconnect performs a graceful COTP disconnect and closes the TCP
// connection.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.conn == nil {
		return nil
	}
	err := cotpDisconnect(s.conn)
	logging.DebugDisconnect("S7", s.addr, "disconnect requested")
	s.conn.Close()
	s.closed = true
	if s.metrics != nil {
		s.metrics.sessionClosed()
	}
	return err
}

// checkOpen returns the closed-session error if the session is not Open.
func (s *Session) checkOpen() error {
	if s.closed {
		return &ConnectionError{Reason: "Connection is closed"}
	}
	return nil
}

// fail transitions the session to Closed if err is a connection error
// (§4.6, §7 propagation rule) and returns err unchanged.
func (s *Session) fail(err error) error {
	if err != nil && IsConnectionError(err) && !s.closed {
		s.closed = true
		if s.metrics != nil {
			s.metrics.sessionClosed()
		}
	}
	return err
}

func (s *Session) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.observeRoundTrip(op, time.Since(start), err)
}

// --- Read operations ---------------------------------------------------

// DBRead reads length bytes starting at byte offset start in data block
// db, transparently splitting across multiple round trips if the read
// exceeds the negotiated PDU size (§4.4 "Single read").
func (s *Session) DBRead(db, start, length int) ([]byte, error) {
	return s.readBytes(AreaDataBlock, db, start, length)
}

func (s *Session) MBRead(start, length int) ([]byte, error) {
	return s.readBytes(AreaMerker, 0, start, length)
}

func (s *Session) IRead(start, length int) ([]byte, error) {
	return s.readBytes(AreaProcessInput, 0, start, length)
}

func (s *Session) ORead(start, length int) ([]byte, error) {
	return s.readBytes(AreaProcessOutput, 0, start, length)
}

func (s *Session) readBytes(area Area, db, start, length int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	started := time.Now()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	chunks, err := planSingleRead(Bytes(area, db, start, length), s.pduLength)
	if err != nil {
		s.observe("read", started, err)
		return nil, err
	}

	out := make([]byte, 0, length)
	for _, chunk := range chunks {
		s.pduRef = nextPDURef(s.pduRef)
		item := addressToRequestItem(chunk, uint16(chunk.Length))
		results, err := transactRead(s.conn, s.pduRef, []requestItem{item})
		if err != nil {
			s.observe("read", started, err)
			return nil, s.fail(err)
		}
		if results[0].Err != nil {
			s.observe("read", started, results[0].Err)
			return nil, results[0].Err
		}
		out = append(out, results[0].Data...)
	}
	s.observe("read", started, nil)
	return out, nil
}

// DBReadBit reads a single bit from data block db at byte.bit.
func (s *Session) DBReadBit(db, byteOffset, bit int) (bool, error) {
	return s.readBit(AreaDataBlock, db, byteOffset, bit)
}

func (s *Session) MBReadBit(byteOffset, bit int) (bool, error) {
	return s.readBit(AreaMerker, 0, byteOffset, bit)
}

func (s *Session) IReadBit(byteOffset, bit int) (bool, error) {
	return s.readBit(AreaProcessInput, 0, byteOffset, bit)
}

func (s *Session) OReadBit(byteOffset, bit int) (bool, error) {
	return s.readBit(AreaProcessOutput, 0, byteOffset, bit)
}

func (s *Session) readBit(area Area, db, byteOffset, bit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	started := time.Now()

	access := BitAccess(area, db, byteOffset, bit)
	if err := validateBit(access); err != nil {
		return false, err
	}
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	s.pduRef = nextPDURef(s.pduRef)
	item := addressToRequestItem(access, 1)
	results, err := transactRead(s.conn, s.pduRef, []requestItem{item})
	if err != nil {
		s.observe("read", started, err)
		return false, s.fail(err)
	}
	if results[0].Err != nil {
		s.observe("read", started, results[0].Err)
		return false, results[0].Err
	}
	s.observe("read", started, nil)
	return len(results[0].Data) > 0 && results[0].Data[0] != 0, nil
}

// ItemResult is the per-item outcome of a multi-item operation, returned
// positionally (§4.5 "For multi-item operations").
type ItemResult struct {
	Data []byte
	Err  error
}

// DBReadMulti reads a heterogeneous batch of accesses in one round trip,
// validating budgets up front without splitting (§4.4 "Multi read").
func (s *Session) DBReadMulti(accesses []ReadAccess) ([]ItemResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	started := time.Now()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := validateMultiRead(accesses, s.pduLength); err != nil {
		s.observe("read_multi", started, err)
		return nil, err
	}

	items := make([]requestItem, len(accesses))
	for i, a := range accesses {
		count := uint16(a.byteLength())
		items[i] = addressToRequestItem(a, count)
	}

	s.pduRef = nextPDURef(s.pduRef)
	results, err := transactRead(s.conn, s.pduRef, items)
	if err != nil {
		s.observe("read_multi", started, err)
		return nil, s.fail(err)
	}
	s.observe("read_multi", started, nil)

	out := make([]ItemResult, len(results))
	for i, r := range results {
		out[i] = ItemResult{Data: r.Data, Err: r.Err}
	}
	return out, nil
}

// --- Write operations ----------------------------------------------------

func (s *Session) DBWrite(db, start int, data []byte) error {
	return s.writeBytes(AreaDataBlock, db, start, data)
}

func (s *Session) MBWrite(start int, data []byte) error {
	return s.writeBytes(AreaMerker, 0, start, data)
}

func (s *Session) IWrite(start int, data []byte) error {
	return s.writeBytes(AreaProcessInput, 0, start, data)
}

func (s *Session) OWrite(start int, data []byte) error {
	return s.writeBytes(AreaProcessOutput, 0, start, data)
}

func (s *Session) writeBytes(area Area, db, start int, data []byte) error {
	w := WriteBytes(area, db, start, data)
	return s.writeMultiLocked([]WriteAccess{w}, "write")
}

func (s *Session) DBWriteBit(db, byteOffset, bit int, value bool) error {
	return s.writeBit(AreaDataBlock, db, byteOffset, bit, value)
}

func (s *Session) MBWriteBit(byteOffset, bit int, value bool) error {
	return s.writeBit(AreaMerker, 0, byteOffset, bit, value)
}

func (s *Session) IWriteBit(byteOffset, bit int, value bool) error {
	return s.writeBit(AreaProcessInput, 0, byteOffset, bit, value)
}

func (s *Session) OWriteBit(byteOffset, bit int, value bool) error {
	return s.writeBit(AreaProcessOutput, 0, byteOffset, bit, value)
}

func (s *Session) writeBit(area Area, db, byteOffset, bit int, value bool) error {
	w := WriteBit(area, db, byteOffset, bit, value)
	return s.writeMultiLocked([]WriteAccess{w}, "write")
}

// DBWriteMulti writes a heterogeneous batch of accesses in one round
// trip, validating budgets up front (§4.4 "Single write and multi write").
func (s *Session) DBWriteMulti(accesses []WriteAccess) ([]ItemResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeMultiResultsLocked(accesses, "write_multi")
}

// writeMultiLocked is the shared single-result-per-call path used by the
// single-item write wrappers.
func (s *Session) writeMultiLocked(accesses []WriteAccess, op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	results, err := s.writeMultiResultsLocked(accesses, op)
	if err != nil {
		return err
	}
	return results[0].Err
}

func (s *Session) writeMultiResultsLocked(accesses []WriteAccess, op string) ([]ItemResult, error) {
	started := time.Now()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := validateWrite(accesses, s.pduLength); err != nil {
		s.observe(op, started, err)
		return nil, err
	}

	items := make([]requestItem, len(accesses))
	payloads := make([][]byte, len(accesses))
	bits := make([]bool, len(accesses))
	for i, w := range accesses {
		if w.Access.isBit {
			bits[i] = true
			b := byte(0)
			if w.Bool {
				b = 1
			}
			payloads[i] = []byte{b}
			items[i] = addressToRequestItem(w.Access, 1)
		} else {
			payloads[i] = w.Bytes
			items[i] = addressToRequestItem(w.Access, uint16(len(w.Bytes)))
		}
	}

	s.pduRef = nextPDURef(s.pduRef)
	results, err := transactWrite(s.conn, s.pduRef, items, payloads, bits)
	if err != nil {
		s.observe(op, started, err)
		return nil, s.fail(err)
	}
	s.observe(op, started, nil)

	out := make([]ItemResult, len(results))
	for i, r := range results {
		out[i] = ItemResult{Err: r.Err}
	}
	return out, nil
}
