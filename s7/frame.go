package s7

import (
	"io"
	"net"
	"time"

	"warlink/logging"
)

// sendFrame writes payload as a single, unfragmented TPKT+COTP-Data frame
// with EOT set (§4.2 "Send"). The library never fragments outgoing
// requests; the negotiated pdu_length bounds what the planner builds.
func sendFrame(conn net.Conn, payload []byte) error {
	cotp := encodeCotpDataHeader(true)
	body := make([]byte, 0, cotpDataHdrLen+len(payload))
	body = append(body, cotp...)
	body = append(body, payload...)

	frame := make([]byte, 0, tpktHeaderLen+len(body))
	frame = append(frame, encodeTPKTHeader(len(body))...)
	frame = append(frame, body...)

	logging.DebugTX("S7", frame)
	_, err := conn.Write(frame)
	if err != nil {
		logging.DebugError("S7", "sendFrame write", err)
	}
	return err
}

// recvFrame reads one or more TPKT records from conn, reassembling COTP
// fragments until the EOT bit is set, and returns the accumulated S7
// payload (§4.2 "Receive").
func recvFrame(conn net.Conn) ([]byte, error) {
	var acc []byte
	for {
		header := make([]byte, tpktHeaderLen)
		if _, err := io.ReadFull(conn, header); err != nil {
			logging.DebugError("S7", "recvFrame read TPKT header", err)
			return nil, err
		}
		total, err := decodeTPKTHeader(header)
		if err != nil {
			logging.DebugError("S7", "recvFrame decode TPKT header", err)
			return nil, err
		}

		body := make([]byte, total-tpktHeaderLen)
		if _, err := io.ReadFull(conn, body); err != nil {
			logging.DebugError("S7", "recvFrame read TPKT body", err)
			return nil, err
		}
		logging.DebugRX("S7", append(append([]byte(nil), header...), body...))

		eot, err := decodeCotpDataHeader(body)
		if err != nil {
			return nil, err
		}
		acc = append(acc, body[cotpDataHdrLen:]...)
		if eot {
			return acc, nil
		}
	}
}

// exchange sends payload and returns the reassembled response, bounding
// the whole round trip (including fragment reassembly) by ExchangeTimeout.
func exchange(conn net.Conn, payload []byte) ([]byte, error) {
	if err := conn.SetDeadline(time.Now().Add(ExchangeTimeout)); err != nil {
		return nil, err
	}
	defer conn.SetDeadline(time.Time{})

	if err := sendFrame(conn, payload); err != nil {
		return nil, &ConnectionError{Reason: err.Error()}
	}
	resp, err := recvFrame(conn)
	if err != nil {
		if isTimeout(err) {
			return nil, &DataExchangeTimedOutError{}
		}
		return nil, &ConnectionError{Reason: err.Error()}
	}
	return resp, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
