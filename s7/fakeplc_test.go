package s7

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"
)

// fakePLC is a minimal COTP+S7 responder used to exercise Session against
// real TCP I/O without a live PLC. It understands the CR/CC and Setup
// Communication handshake and answers read_area/write_area requests
// against an in-memory per-DB byte store.
type fakePLC struct {
	ln         net.Listener
	listenAddr string
	pduLength  uint16

	mu      sync.Mutex
	dbs     map[int][]byte
	dropReq bool   // when set, silently close the connection on the next data request instead of answering
	lastCR  []byte // raw COTP CR body received during the last handshake, for TSAP assertions
}

func startFakePLC(t *testing.T, pduLength uint16) *fakePLC {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakePLC{ln: ln, listenAddr: ln.Addr().String(), pduLength: pduLength, dbs: make(map[int][]byte)}
	go f.acceptLoop()
	t.Cleanup(func() { f.ln.Close() })
	return f
}

func (f *fakePLC) addr() string { return f.listenAddr }

// lastDstTSAP returns the destination-TSAP parameter value from the most
// recently received COTP CR, so a test can assert the wire-level rack/slot
// and connection-type encoding.
func (f *fakePLC) lastDstTSAP() ([]byte, bool) {
	f.mu.Lock()
	cr := f.lastCR
	f.mu.Unlock()
	if len(cr) < 7 {
		return nil, false
	}
	params := cr[7:] // skip len byte, CR type, dst_ref(2), src_ref(2), class
	for len(params) >= 2 {
		code, length := params[0], int(params[1])
		if len(params) < 2+length {
			return nil, false
		}
		if code == cotpParamDstTSAP {
			return params[2 : 2+length], true
		}
		params = params[2+length:]
	}
	return nil, false
}

// dropNextRequest makes the server silently close the connection the
// next time it receives a data request, instead of answering it.
func (f *fakePLC) dropNextRequest() {
	f.mu.Lock()
	f.dropReq = true
	f.mu.Unlock()
}

func (f *fakePLC) dbBuf(db, need int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := f.dbs[db]
	if len(buf) < need {
		grown := make([]byte, need)
		copy(grown, buf)
		buf = grown
		f.dbs[db] = buf
	}
	return buf
}

// seed preloads db with data starting at offset 0.
func (f *fakePLC) seed(db int, data []byte) {
	buf := f.dbBuf(db, len(data))
	copy(buf, data)
}

func (f *fakePLC) snapshot(db int, length int) []byte {
	buf := f.dbBuf(db, length)
	return append([]byte(nil), buf[:length]...)
}

func (f *fakePLC) acceptLoop() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakePLC) handle(conn net.Conn) {
	defer conn.Close()
	for {
		header := make([]byte, tpktHeaderLen)
		if _, err := readFull(conn, header); err != nil {
			return
		}
		total, err := decodeTPKTHeader(header)
		if err != nil {
			return
		}
		body := make([]byte, total-tpktHeaderLen)
		if _, err := readFull(conn, body); err != nil {
			return
		}
		if len(body) < 2 {
			return
		}

		switch body[1] {
		case cotpCR:
			f.mu.Lock()
			f.lastCR = append([]byte(nil), body...)
			f.mu.Unlock()
			if err := f.sendControlPDU(conn, cotpCC); err != nil {
				return
			}
		case cotpDR:
			f.sendControlPDU(conn, cotpDC)
			return
		case cotpDT:
			if len(body) < cotpDataHdrLen {
				return
			}
			f.mu.Lock()
			drop := f.dropReq
			f.mu.Unlock()
			if drop {
				return
			}
			if err := f.handleS7(conn, body[cotpDataHdrLen:]); err != nil {
				return
			}
		default:
			return
		}
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (f *fakePLC) sendControlPDU(conn net.Conn, pduType byte) error {
	raw := []byte{pduType, 0x00, 0x00, 0x00, 0x00, 0x00}
	frame := append([]byte{byte(len(raw))}, raw...)
	tpkt := append(encodeTPKTHeader(len(frame)), frame...)
	_, err := conn.Write(tpkt)
	return err
}

func (f *fakePLC) handleS7(conn net.Conn, payload []byte) error {
	h, n, err := decodeHeader(payload)
	if err != nil {
		return err
	}
	params := payload[n:]
	if len(params) == 0 {
		return nil
	}

	switch params[0] {
	case funcSetupComm:
		return f.replySetupComm(conn, h.PDURef)
	case funcReadVar:
		return f.replyRead(conn, h.PDURef, params)
	case funcWriteVar:
		dataStart := n + int(h.ParamLength)
		return f.replyWrite(conn, h.PDURef, params, payload[dataStart:])
	}
	return nil
}

func (f *fakePLC) replySetupComm(conn net.Conn, pduRef uint16) error {
	resp := buildRespHeader(rosctrAckData, pduRef, setupCommParamsLen, 0)
	params := make([]byte, setupCommParamsLen)
	params[0] = funcSetupComm
	binary.BigEndian.PutUint16(params[2:4], 0x0100)
	binary.LittleEndian.PutUint16(params[4:6], 0x0100)
	binary.BigEndian.PutUint16(params[6:8], f.pduLength)
	resp = append(resp, params...)
	return sendFrame(conn, resp)
}

func (f *fakePLC) replyRead(conn net.Conn, pduRef uint16, params []byte) error {
	if len(params) < 2 {
		return nil
	}
	count := int(params[1])
	items := make([]requestItem, 0, count)
	rest := params[2:]
	for i := 0; i < count; i++ {
		it, err := decodeRequestItem(rest)
		if err != nil {
			return err
		}
		items = append(items, it)
		rest = rest[requestItemLen:]
	}

	data := make([]byte, 0)
	for _, it := range items {
		isBit := it.VarType == varTypeBit
		var payload []byte
		if isBit {
			byteOff := int(it.Address) / 8
			bit := int(it.Address) % 8
			buf := f.dbBuf(int(it.DBNumber), byteOff+1)
			f.mu.Lock()
			v := buf[byteOff]&(1<<uint(bit)) != 0
			f.mu.Unlock()
			b := byte(0)
			if v {
				b = 1
			}
			payload = []byte{b}
		} else {
			byteOff := int(it.Address) / 8
			n := int(it.Count)
			buf := f.dbBuf(int(it.DBNumber), byteOff+n)
			f.mu.Lock()
			payload = append([]byte(nil), buf[byteOff:byteOff+n]...)
			f.mu.Unlock()
		}
		data = append(data, encodeReadResult(payload, isBit)...)
	}

	resp := buildRespHeader(rosctrAckData, pduRef, 2, uint16(len(data)))
	resp = append(resp, funcReadVar, byte(len(items)))
	resp = append(resp, data...)
	return sendFrame(conn, resp)
}

func (f *fakePLC) replyWrite(conn net.Conn, pduRef uint16, params []byte, data []byte) error {
	if len(params) < 2 {
		return nil
	}
	count := int(params[1])
	items := make([]requestItem, 0, count)
	rest := params[2:]
	for i := 0; i < count; i++ {
		it, err := decodeRequestItem(rest)
		if err != nil {
			return err
		}
		items = append(items, it)
		rest = rest[requestItemLen:]
	}

	status := make([]byte, 0, count)
	for _, it := range items {
		if len(data) < dataItemHdrLen {
			return shortPacketErr("write data item", dataItemHdrLen, len(data))
		}
		// Write items carry error_code 0x00, which decodeDataItem treats as
		// a payload-less error item; decode a copy marked as success instead.
		item := append([]byte{dataItemSuccess}, data[1:]...)
		di, consumed, err := decodeDataItem(item)
		if err != nil {
			return err
		}
		data = data[consumed:]

		if it.VarType == varTypeBit {
			byteOff := int(it.Address) / 8
			bit := uint(int(it.Address) % 8)
			buf := f.dbBuf(int(it.DBNumber), byteOff+1)
			f.mu.Lock()
			if len(di.Data) > 0 && di.Data[0] != 0 {
				buf[byteOff] |= 1 << bit
			} else {
				buf[byteOff] &^= 1 << bit
			}
			f.mu.Unlock()
		} else {
			byteOff := int(it.Address) / 8
			buf := f.dbBuf(int(it.DBNumber), byteOff+len(di.Data))
			f.mu.Lock()
			copy(buf[byteOff:], di.Data)
			f.mu.Unlock()
		}
		status = append(status, dataItemSuccess)
	}

	resp := buildRespHeader(rosctrAck, pduRef, 2, uint16(len(status)))
	resp = append(resp, funcWriteVar, byte(len(items)))
	resp = append(resp, status...)
	return sendFrame(conn, resp)
}

// buildRespHeader builds a 12-byte Ack/AckData S7 header.
func buildRespHeader(rc rosctr, pduRef, paramLen, dataLen uint16) []byte {
	buf := make([]byte, s7HeaderRespLen)
	buf[0] = s7ProtocolID
	buf[1] = byte(rc)
	binary.BigEndian.PutUint16(buf[4:6], pduRef)
	binary.BigEndian.PutUint16(buf[6:8], paramLen)
	binary.BigEndian.PutUint16(buf[8:10], dataLen)
	buf[10] = 0
	buf[11] = 0
	return buf
}
