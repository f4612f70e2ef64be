package s7

import (
	"net"
)

// itemResult is one DataItem's outcome: either payload bytes or a
// classified per-item error (§4.5 step 6).
type itemResult struct {
	Data []byte
	Err  error
}

// buildReadRequest assembles the Job PDU for a read_area request covering
// one or more RequestItems (§3 "Read/Write parameter segment").
func buildReadRequest(pduRef uint16, items []requestItem) []byte {
	params := make([]byte, 0, 2+len(items)*requestItemLen)
	params = append(params, funcReadVar, byte(len(items)))
	for _, it := range items {
		params = append(params, it.encode()...)
	}
	header := encodeJobHeader(pduRef, uint16(len(params)), 0)
	return append(header, params...)
}

// buildWriteRequest assembles the Job PDU for a write_area request: the
// parameter segment carries the RequestItems, the data segment carries
// one write DataItem per item, in the same order.
func buildWriteRequest(pduRef uint16, items []requestItem, payloads [][]byte, bits []bool) []byte {
	params := make([]byte, 0, 2+len(items)*requestItemLen)
	params = append(params, funcWriteVar, byte(len(items)))
	for _, it := range items {
		params = append(params, it.encode()...)
	}

	data := make([]byte, 0)
	for i, p := range payloads {
		data = append(data, encodeWriteItem(p, bits[i])...)
	}

	header := encodeJobHeader(pduRef, uint16(len(params)), uint16(len(data)))
	out := make([]byte, 0, len(header)+len(params)+len(data))
	out = append(out, header...)
	out = append(out, params...)
	out = append(out, data...)
	return out
}

// transactRead performs one read round trip: send, receive, validate the
// header, then decode itemCount DataItems (§4.5).
func transactRead(conn net.Conn, pduRef uint16, items []requestItem) ([]itemResult, error) {
	req := buildReadRequest(pduRef, items)
	resp, err := exchange(conn, req)
	if err != nil {
		return nil, err
	}

	h, n, err := decodeHeader(resp)
	if err != nil {
		return nil, err
	}
	if err := checkResponseHeader(h, pduRef, rosctrAckData); err != nil {
		return nil, err
	}

	body := resp[n:]
	if len(body) < 2 {
		return nil, shortPacketErr("read response parameters", 2, len(body))
	}
	itemCount := int(body[1])
	body = body[2:]

	results := make([]itemResult, 0, itemCount)
	for i := 0; i < itemCount; i++ {
		di, consumed, err := decodeDataItem(body)
		if err != nil {
			return nil, err
		}
		body = body[consumed:]
		if di.ErrorCode != dataItemSuccess {
			results = append(results, itemResult{Err: &DataItemError{Code: di.ErrorCode}})
			continue
		}
		results = append(results, itemResult{Data: di.Data})
	}
	return results, nil
}

// transactWrite performs one write round trip and returns one result per
// item (Data is always nil on success; Err carries the per-item code).
func transactWrite(conn net.Conn, pduRef uint16, items []requestItem, payloads [][]byte, bits []bool) ([]itemResult, error) {
	req := buildWriteRequest(pduRef, items, payloads, bits)
	resp, err := exchange(conn, req)
	if err != nil {
		return nil, err
	}

	h, n, err := decodeHeader(resp)
	if err != nil {
		return nil, err
	}
	if err := checkResponseHeader(h, pduRef, rosctrAck); err != nil {
		return nil, err
	}

	body := resp[n:]
	if len(body) < 2 {
		return nil, shortPacketErr("write response parameters", 2, len(body))
	}
	itemCount := int(body[1])
	body = body[2:]

	results := make([]itemResult, 0, itemCount)
	for i := 0; i < itemCount; i++ {
		if len(body) < 1 {
			return nil, shortPacketErr("write item status", 1, len(body))
		}
		code := body[0]
		body = body[1:]
		if code != dataItemSuccess {
			results = append(results, itemResult{Err: &DataItemError{Code: code}})
			continue
		}
		results = append(results, itemResult{})
	}
	return results, nil
}

// checkResponseHeader applies the §4.5 step 4 header checks common to
// both read and write transactions.
func checkResponseHeader(h s7Header, wantPDURef uint16, wantRosctr rosctr) error {
	if h.Rosctr != wantRosctr {
		return &RequestNotAcknowledgedError{Got: h.Rosctr}
	}
	if h.PDURef != wantPDURef {
		return &ResponseDoesNotBelongToCurrentPDUError{Want: wantPDURef, Got: h.PDURef}
	}
	if h.ErrorClass != 0 {
		return &S7ProtocolError{Class: h.ErrorClass, Code: h.ErrorCode}
	}
	return nil
}
