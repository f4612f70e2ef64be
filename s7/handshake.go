package s7

import (
	"fmt"
	"io"
	"net"
	"time"

	"warlink/logging"
)

const (
	cotpCR  = 0xE0
	cotpCC  = 0xD0
	cotpDR  = 0x80 // Disconnect Request
	cotpDC  = 0xC0 // Disconnect Confirm

	cotpParamTPDUSize = 0xC0
	cotpParamSrcTSAP  = 0xC1
	cotpParamDstTSAP  = 0xC2

	connectionTypeBasic = 0x03

	disconnectReasonNormal = 128
)

// tpduSizeCode maps a proposed PDU size to the COTP TPDU-size parameter
// code (§9 "Endpoint limits").
func tpduSizeCode(size int) byte {
	switch {
	case size >= 8192:
		return 0x0D
	case size >= 4096:
		return 0x0C
	case size >= 2048:
		return 0x0B
	case size >= 1024:
		return 0x0A
	case size >= 512:
		return 0x09
	case size >= 256:
		return 0x08
	default:
		return 0x07
	}
}

// rackSlotTSAP builds the 2-byte destination TSAP for the given rack/slot,
// per §4.3: dst_tsap = (ConnectionType.Basic << 8) | (rack*0x20 + slot).
func rackSlotTSAP(rack, slot int) []byte {
	val := uint16(connectionTypeBasic)<<8 | uint16(rack*0x20+slot)
	return []byte{byte(val >> 8), byte(val)}
}

// cotpConnect performs the COTP Connection Request / Connection Confirm
// exchange (§4.3 step 2).
func cotpConnect(conn net.Conn, rack, slot int) error {
	srcTSAP := []byte{0x01, 0x00}
	dstTSAP := rackSlotTSAP(rack, slot)

	cr := []byte{
		cotpCR,
		0x00, 0x00, // destination reference
		0x01, 0x00, // source reference (§4.3: src_ref=0x0100)
		0x00, // class/option = 0
	}
	cr = append(cr, cotpParamSrcTSAP, byte(len(srcTSAP)))
	cr = append(cr, srcTSAP...)
	cr = append(cr, cotpParamDstTSAP, byte(len(dstTSAP)))
	cr = append(cr, dstTSAP...)
	cr = append(cr, cotpParamTPDUSize, 0x01, tpduSizeCode(2048))

	frame := make([]byte, 0, 1+len(cr))
	frame = append(frame, byte(len(cr)))
	frame = append(frame, cr...)

	tpkt := append(encodeTPKTHeader(len(frame)), frame...)
	logging.DebugTX("S7", tpkt)
	if _, err := conn.Write(tpkt); err != nil {
		return &ConnectionError{Reason: fmt.Sprintf("send COTP CR: %v", err)}
	}

	resp, err := readCotpControlPDU(conn)
	if err != nil {
		return err
	}
	if len(resp) < 1 || resp[0] != cotpCC {
		return &IsoError{Reason: "InvalidPDU"}
	}
	return nil
}

// s7SetupComm performs the S7 Setup Communication negotiation (§4.3 step 3).
func s7SetupComm(conn net.Conn) (setupCommResult, error) {
	params := encodeSetupCommParams(0x0100, 0x0100, InitialNegotiated)
	header := encodeJobHeader(0, uint16(len(params)), 0)

	payload := make([]byte, 0, len(header)+len(params))
	payload = append(payload, header...)
	payload = append(payload, params...)

	resp, err := exchange(conn, payload)
	if err != nil {
		return setupCommResult{}, err
	}

	h, n, err := decodeHeader(resp)
	if err != nil {
		return setupCommResult{}, err
	}
	if h.Rosctr != rosctrAckData {
		return setupCommResult{}, &RequestNotAcknowledgedError{Got: h.Rosctr}
	}
	if h.ErrorClass != 0 {
		return setupCommResult{}, &S7ProtocolError{Class: h.ErrorClass, Code: h.ErrorCode}
	}
	return decodeSetupCommParams(resp[n:])
}

// cotpDisconnect sends a COTP Disconnect Request and awaits the Disconnect
// Confirm (§4.3 "On disconnect").
func cotpDisconnect(conn net.Conn) error {
	dr := []byte{
		cotpDR,
		0x00, 0x00, // destination reference
		0x00, 0x01, // source reference
		byte(disconnectReasonNormal),
	}
	frame := make([]byte, 0, 1+len(dr))
	frame = append(frame, byte(len(dr)))
	frame = append(frame, dr...)

	tpkt := append(encodeTPKTHeader(len(frame)), frame...)
	if _, err := conn.Write(tpkt); err != nil {
		return &ConnectionError{Reason: fmt.Sprintf("send COTP DR: %v", err)}
	}

	resp, err := readCotpControlPDU(conn)
	if err != nil {
		return err
	}
	if len(resp) < 1 || resp[0] != cotpDC {
		return &IsoError{Reason: "InvalidPDU"}
	}
	return nil
}

// readCotpControlPDU reads one TPKT frame carrying a COTP control PDU
// (CR/CC/DR/DC), which — unlike a Data PDU — is not length-prefixed by a
// separate S7 payload and is never fragmented.
func readCotpControlPDU(conn net.Conn) ([]byte, error) {
	if err := conn.SetDeadline(time.Now().Add(ConnectTimeout)); err != nil {
		return nil, err
	}
	defer conn.SetDeadline(time.Time{})

	header := make([]byte, tpktHeaderLen)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, &ConnectionError{Reason: err.Error()}
	}
	total, err := decodeTPKTHeader(header)
	if err != nil {
		return nil, err
	}
	body := make([]byte, total-tpktHeaderLen)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, &ConnectionError{Reason: err.Error()}
	}
	logging.DebugRX("S7", append(header, body...))
	if len(body) < 1 {
		return nil, &IsoError{Reason: "ShortPacket"}
	}
	return body[1:], nil // skip the leading length byte
}
