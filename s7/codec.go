package s7

import (
	"encoding/binary"
	"fmt"
)

// Wire-level sizes (spec.md §3/§4.1).
const (
	tpktHeaderLen    = 4
	cotpDataHdrLen   = 3
	s7HeaderReqLen   = 10 // Job: no error_class/error_code
	s7HeaderRespLen  = 12 // Ack/AckData: adds error_class, error_code
	requestItemLen   = 12
	dataItemHdrLen   = 4
	setupCommParamsLen = 8

	s7ProtocolID = 0x32

	specTypeS7Any = 0x12
	s7AnyItemLen  = 0x0A
	syntaxIDAny   = 0x10
)

// shortPacketErr builds the ShortPacket decode error (§7).
func shortPacketErr(what string, need, got int) error {
	return &ShortPacketError{What: what, Need: need, Got: got}
}

// --- TPKT (RFC 1006) -------------------------------------------------------

// encodeTPKTHeader returns the 4-byte TPKT header for a payload of the
// given length.
func encodeTPKTHeader(payloadLen int) []byte {
	total := tpktHeaderLen + payloadLen
	return []byte{0x03, 0x00, byte(total >> 8), byte(total)}
}

// decodeTPKTHeader validates and returns the total frame length encoded in
// a 4-byte TPKT header.
func decodeTPKTHeader(buf []byte) (int, error) {
	if len(buf) < tpktHeaderLen {
		return 0, shortPacketErr("TPKT header", tpktHeaderLen, len(buf))
	}
	if buf[0] != 0x03 {
		return 0, fmt.Errorf("s7: invalid TPKT version %#x", buf[0])
	}
	total := int(binary.BigEndian.Uint16(buf[2:4]))
	if total < tpktHeaderLen {
		return 0, fmt.Errorf("s7: invalid TPKT length %d", total)
	}
	return total, nil
}

// --- COTP data header -------------------------------------------------------

const cotpDT = 0xF0

// encodeCotpDataHeader returns the 3-byte COTP data header, setting the
// EOT bit (bit 7 of the tpdu-number byte) when this is the final fragment.
func encodeCotpDataHeader(eot bool) []byte {
	tpduNum := byte(0x00)
	if eot {
		tpduNum = 0x80
	}
	return []byte{0x02, cotpDT, tpduNum}
}

// decodeCotpDataHeader validates a 3-byte COTP data header and reports
// whether the EOT bit is set.
func decodeCotpDataHeader(buf []byte) (eot bool, err error) {
	if len(buf) < cotpDataHdrLen {
		return false, shortPacketErr("COTP data header", cotpDataHdrLen, len(buf))
	}
	if buf[1] != cotpDT {
		return false, fmt.Errorf("s7: expected COTP DT (%#x), got %#x", cotpDT, buf[1])
	}
	return buf[2]&0x80 != 0, nil
}

// --- S7 PDU header ----------------------------------------------------------

// s7Header is the common S7 application-layer header. Request (Job) PDUs
// carry only the first six fields; response PDUs (Ack/AckData) add
// ErrorClass/ErrorCode.
type s7Header struct {
	Rosctr      rosctr
	PDURef      uint16
	ParamLength uint16
	DataLength  uint16
	ErrorClass  byte
	ErrorCode   byte
}

// encodeJobHeader builds the 10-byte request header for a Job PDU.
func encodeJobHeader(pduRef, paramLen, dataLen uint16) []byte {
	buf := make([]byte, s7HeaderReqLen)
	buf[0] = s7ProtocolID
	buf[1] = byte(rosctrJob)
	buf[2], buf[3] = 0, 0
	binary.BigEndian.PutUint16(buf[4:6], pduRef)
	binary.BigEndian.PutUint16(buf[6:8], paramLen)
	binary.BigEndian.PutUint16(buf[8:10], dataLen)
	return buf
}

// decodeHeader decodes an S7 PDU header from the front of buf, returning
// the parsed header and the number of bytes it occupied (10 or 12,
// depending on rosctr).
func decodeHeader(buf []byte) (s7Header, int, error) {
	var h s7Header
	if len(buf) < s7HeaderReqLen {
		return h, 0, shortPacketErr("S7 header", s7HeaderReqLen, len(buf))
	}
	if buf[0] != s7ProtocolID {
		return h, 0, fmt.Errorf("s7: invalid protocol id %#x", buf[0])
	}
	h.Rosctr = rosctr(buf[1])
	h.PDURef = binary.BigEndian.Uint16(buf[4:6])
	h.ParamLength = binary.BigEndian.Uint16(buf[6:8])
	h.DataLength = binary.BigEndian.Uint16(buf[8:10])

	if h.Rosctr == rosctrAck || h.Rosctr == rosctrAckData {
		if len(buf) < s7HeaderRespLen {
			return h, 0, shortPacketErr("S7 response header", s7HeaderRespLen, len(buf))
		}
		h.ErrorClass = buf[10]
		h.ErrorCode = buf[11]
		return h, s7HeaderRespLen, nil
	}
	return h, s7HeaderReqLen, nil
}

// --- Setup Communication parameters -----------------------------------------

// encodeSetupCommParams builds the 8-byte Setup Communication parameter
// block for a request.
func encodeSetupCommParams(maxAMQCaller, maxAMQCallee, pduLength uint16) []byte {
	buf := make([]byte, setupCommParamsLen)
	buf[0] = funcSetupComm
	buf[1] = 0 // reserved
	binary.BigEndian.PutUint16(buf[2:4], maxAMQCaller)
	binary.BigEndian.PutUint16(buf[4:6], maxAMQCallee)
	binary.BigEndian.PutUint16(buf[6:8], pduLength)
	return buf
}

// setupCommResult is the negotiated outcome of a Setup Communication
// exchange.
type setupCommResult struct {
	MaxAMQCaller uint16
	MaxAMQCallee uint16
	PDULength    uint16
}

// decodeSetupCommParams decodes the 8-byte Setup Communication response
// parameter block. max_amq_callee is decoded little-endian: this is the
// one documented asymmetry in an otherwise all-big-endian protocol (§9).
func decodeSetupCommParams(buf []byte) (setupCommResult, error) {
	var r setupCommResult
	if len(buf) < setupCommParamsLen {
		return r, shortPacketErr("setup comm params", setupCommParamsLen, len(buf))
	}
	if buf[0] != funcSetupComm {
		return r, fmt.Errorf("s7: unexpected function %#x in setup response", buf[0])
	}
	r.MaxAMQCaller = binary.BigEndian.Uint16(buf[2:4])
	r.MaxAMQCallee = binary.LittleEndian.Uint16(buf[4:6])
	r.PDULength = binary.BigEndian.Uint16(buf[6:8])
	return r, nil
}

// --- RequestItem (S7ANY addressing) -----------------------------------------

// requestItem is the on-wire 12-byte S7ANY addressing item.
type requestItem struct {
	VarType  varType
	Count    uint16
	DBNumber uint16
	Area     Area
	Address  uint32 // 24 bits significant
}

// encode writes the 12-byte wire form of the item.
func (r requestItem) encode() []byte {
	buf := make([]byte, requestItemLen)
	buf[0] = specTypeS7Any
	buf[1] = s7AnyItemLen
	buf[2] = syntaxIDAny
	buf[3] = byte(r.VarType)
	binary.BigEndian.PutUint16(buf[4:6], r.Count)
	binary.BigEndian.PutUint16(buf[6:8], r.DBNumber)
	buf[8] = byte(r.Area)
	buf[9] = byte(r.Address >> 16)
	buf[10] = byte(r.Address >> 8)
	buf[11] = byte(r.Address)
	return buf
}

// decodeRequestItem parses a 12-byte S7ANY item from the front of buf.
func decodeRequestItem(buf []byte) (requestItem, error) {
	var r requestItem
	if len(buf) < requestItemLen {
		return r, shortPacketErr("request item", requestItemLen, len(buf))
	}
	r.VarType = varType(buf[3])
	r.Count = binary.BigEndian.Uint16(buf[4:6])
	r.DBNumber = binary.BigEndian.Uint16(buf[6:8])
	r.Area = Area(buf[8])
	r.Address = uint32(buf[9])<<16 | uint32(buf[10])<<8 | uint32(buf[11])
	return r, nil
}

// --- DataItem ----------------------------------------------------------------

// dataItem is the on-wire representation of one read result or write
// payload: a 4-byte header followed by the data bytes.
type dataItem struct {
	ErrorCode     byte
	TransportSize byte
	Data          []byte
}

// Transport sizes used in DataItem.TransportSize (bits-per-element for
// the count_bits field, per §3).
const (
	transportSizeBit  = 0x03 // bit, count_bits counts bits 1:1
	transportSizeByte = 0x04 // byte/word/dword, count_bits counts bits (8 per byte)
)

// encodeReadResult builds the wire form of a successful read DataItem,
// padding the payload to an even length as the protocol requires between
// items (padding byte is not counted in count_bits).
func encodeReadResult(data []byte, isBit bool) []byte {
	ts := byte(transportSizeByte)
	countBits := len(data) * 8
	if isBit {
		ts = transportSizeBit
		countBits = len(data)
	}
	buf := make([]byte, dataItemHdrLen, dataItemHdrLen+len(data)+1)
	buf[0] = 0xFF // error_code: success
	buf[1] = ts
	binary.BigEndian.PutUint16(buf[2:4], uint16(countBits))
	buf = append(buf, data...)
	if len(data)%2 != 0 {
		buf = append(buf, 0x00)
	}
	return buf
}

// encodeWriteItem builds the wire form of a write DataItem (used in the
// data segment of a write request). Write items use error_code=0x00.
func encodeWriteItem(data []byte, isBit bool) []byte {
	ts := byte(transportSizeByte)
	countBits := len(data) * 8
	if isBit {
		ts = transportSizeBit
		countBits = len(data)
	}
	buf := make([]byte, dataItemHdrLen, dataItemHdrLen+len(data)+1)
	buf[0] = 0x00
	buf[1] = ts
	binary.BigEndian.PutUint16(buf[2:4], uint16(countBits))
	buf = append(buf, data...)
	if len(data)%2 != 0 {
		buf = append(buf, 0x00)
	}
	return buf
}

// decodeDataItem parses one DataItem from the front of buf and returns it
// together with the number of bytes consumed (header + payload + any
// padding byte), so callers can advance to the next item.
func decodeDataItem(buf []byte) (dataItem, int, error) {
	var d dataItem
	if len(buf) < dataItemHdrLen {
		return d, 0, shortPacketErr("data item header", dataItemHdrLen, len(buf))
	}
	d.ErrorCode = buf[0]
	d.TransportSize = buf[1]
	countBits := int(binary.BigEndian.Uint16(buf[2:4]))

	if d.ErrorCode != 0xFF {
		// No payload follows an error item.
		return d, dataItemHdrLen, nil
	}

	byteLen := countBits / 8
	if countBits%8 != 0 {
		byteLen++
	}
	if len(buf) < dataItemHdrLen+byteLen {
		return d, 0, shortPacketErr("data item payload", dataItemHdrLen+byteLen, len(buf))
	}
	d.Data = append([]byte(nil), buf[dataItemHdrLen:dataItemHdrLen+byteLen]...)

	consumed := dataItemHdrLen + byteLen
	if byteLen%2 != 0 && len(buf) > consumed {
		consumed++ // skip the fill byte inserted between odd-length items
	}
	return d, consumed, nil
}
