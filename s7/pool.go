package s7

import (
	"sync"
)

// negotiatedHint is the cached {pdu_length, max_amq_caller, max_amq_callee}
// for an endpoint, kept only as a capacity-planning hint (§5 "Shared
// resources", §9 "Open question — pooled session caching"). It is never
// used to skip renegotiation: every freshly dialed Session always
// performs its own handshake.
type negotiatedHint struct {
	PDULength    int
	MaxAMQCaller uint16
	MaxAMQCallee uint16
}

// Pool is a bounded collection of Sessions against one PLC endpoint
// (§4.7). Idle sessions are reused on checkout; closed sessions are
// discarded and replaced on demand, subject to the capacity limit.
type Pool struct {
	mu sync.Mutex

	addr     string
	family   Family
	capacity int

	idle  []*Session
	count int // idle + checked-out

	hint    *negotiatedHint
	metrics *Metrics
}

// NewPool creates a Pool for addr/family with the default capacity
// (PoolMaxSize).
func NewPool(addr string, family Family) *Pool {
	return &Pool{addr: addr, family: family, capacity: PoolMaxSize}
}

// WithCapacity overrides the pool's maximum session count.
func (p *Pool) WithCapacity(n int) *Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.capacity = n
	return p
}

// WithMetrics attaches a Metrics bundle applied to every Session the pool
// opens from then on.
func (p *Pool) WithMetrics(m *Metrics) *Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = m
	return p
}

// Hint returns the cached negotiated parameters for this endpoint, or
// false if none have been observed yet.
func (p *Pool) Hint() (pduLength int, maxAMQCaller, maxAMQCallee uint16, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hint == nil {
		return 0, 0, 0, false
	}
	return p.hint.PDULength, p.hint.MaxAMQCaller, p.hint.MaxAMQCallee, true
}

// Checkout returns an idle session, or opens a new one if the pool has
// spare capacity. Closed idle sessions are discarded and free their slot.
// It fails with PoolError if every session up to the capacity is checked
// out, or if opening a new session fails.
func (p *Pool) Checkout() (*Session, error) {
	p.mu.Lock()
	for len(p.idle) > 0 {
		s := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if s.Closed() {
			p.count--
			p.invalidateHintLocked()
			continue
		}
		p.mu.Unlock()
		return s, nil
	}
	if p.count >= p.capacity {
		p.mu.Unlock()
		return nil, &PoolError{Reason: "pool at capacity"}
	}
	p.count++
	p.mu.Unlock()

	s, err := Open(p.addr, p.family)
	if err != nil {
		p.mu.Lock()
		p.count--
		p.mu.Unlock()
		return nil, &PoolError{Reason: err.Error()}
	}
	if p.metrics != nil {
		s.WithMetrics(p.metrics)
	}

	p.mu.Lock()
	p.hint = &negotiatedHint{PDULength: s.pduLength, MaxAMQCaller: s.maxAMQCaller, MaxAMQCallee: s.maxAMQCallee}
	p.mu.Unlock()

	return s, nil
}

// Checkin returns s to the idle set, or drops it (and decrements the
// pool's count) if its closed flag is set (§4.7).
func (p *Pool) Checkin(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.Closed() {
		p.count--
		p.invalidateHintLocked()
		return
	}
	p.idle = append(p.idle, s)
}

// invalidateHintLocked clears the cached negotiation hint; called when a
// recycled session turns out closed, so Hint reports nothing until the
// next freshly opened session supplies new values.
func (p *Pool) invalidateHintLocked() {
	p.hint = nil
}

// withSession checks out a session, runs fn, and always checks it back
// in — the shared plumbing behind the Pool's forwarding read/write
// methods.
func (p *Pool) withSession(fn func(*Session) error) error {
	s, err := p.Checkout()
	if err != nil {
		return err
	}
	defer p.Checkin(s)
	return fn(s)
}

func (p *Pool) DBRead(db, start, length int) ([]byte, error) {
	var out []byte
	err := p.withSession(func(s *Session) error {
		b, err := s.DBRead(db, start, length)
		out = b
		return err
	})
	return out, err
}

func (p *Pool) DBReadBit(db, byteOffset, bit int) (bool, error) {
	var out bool
	err := p.withSession(func(s *Session) error {
		b, err := s.DBReadBit(db, byteOffset, bit)
		out = b
		return err
	})
	return out, err
}

func (p *Pool) DBReadMulti(accesses []ReadAccess) ([]ItemResult, error) {
	var out []ItemResult
	err := p.withSession(func(s *Session) error {
		r, err := s.DBReadMulti(accesses)
		out = r
		return err
	})
	return out, err
}

func (p *Pool) DBWrite(db, start int, data []byte) error {
	return p.withSession(func(s *Session) error { return s.DBWrite(db, start, data) })
}

func (p *Pool) DBWriteBit(db, byteOffset, bit int, value bool) error {
	return p.withSession(func(s *Session) error { return s.DBWriteBit(db, byteOffset, bit, value) })
}

func (p *Pool) DBWriteMulti(accesses []WriteAccess) ([]ItemResult, error) {
	var out []ItemResult
	err := p.withSession(func(s *Session) error {
		r, err := s.DBWriteMulti(accesses)
		out = r
		return err
	})
	return out, err
}

func (p *Pool) MBRead(start, length int) ([]byte, error) {
	var out []byte
	err := p.withSession(func(s *Session) error {
		b, err := s.MBRead(start, length)
		out = b
		return err
	})
	return out, err
}

func (p *Pool) MBWrite(start int, data []byte) error {
	return p.withSession(func(s *Session) error { return s.MBWrite(start, data) })
}

func (p *Pool) IRead(start, length int) ([]byte, error) {
	var out []byte
	err := p.withSession(func(s *Session) error {
		b, err := s.IRead(start, length)
		out = b
		return err
	})
	return out, err
}

func (p *Pool) OWrite(start int, data []byte) error {
	return p.withSession(func(s *Session) error { return s.OWrite(start, data) })
}

func (p *Pool) ORead(start, length int) ([]byte, error) {
	var out []byte
	err := p.withSession(func(s *Session) error {
		b, err := s.ORead(start, length)
		out = b
		return err
	})
	return out, err
}

func (p *Pool) IWrite(start int, data []byte) error {
	return p.withSession(func(s *Session) error { return s.IWrite(start, data) })
}
