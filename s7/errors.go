package s7

import "fmt"

// Error kinds follow §7: transport/connection errors close the session,
// framing/decoding and protocol-header errors are fatal only to the
// operation, per-item errors are returned positionally, and pre-flight
// validation errors are raised before any wire traffic.

// ConnectionError wraps a transport-level failure (dial, I/O, ISO
// handshake). IsConnectionError classifies it as session-closing.
type ConnectionError struct {
	Reason string
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("s7: connection: %s", e.Reason) }

// DataExchangeTimedOutError is raised when a send+receive round trip
// exceeds ExchangeTimeout.
type DataExchangeTimedOutError struct{}

func (e *DataExchangeTimedOutError) Error() string { return "s7: data exchange timed out" }

// IsoError is an ISO-layer transport error; Reason names the §7
// IsoResponse variant.
type IsoError struct {
	Reason string // "InvalidPDU", "InvalidDataSize", "ShortPacket"
}

func (e *IsoError) Error() string { return fmt.Sprintf("s7: iso response: %s", e.Reason) }

// ShortPacketError is a framing/decoding error: the input was shorter
// than the fixed-layout record it was decoded as.
type ShortPacketError struct {
	What string
	Need int
	Got  int
}

func (e *ShortPacketError) Error() string {
	return fmt.Sprintf("s7: short packet decoding %s: need %d bytes, got %d", e.What, e.Need, e.Got)
}

// RequestNotAcknowledgedError is raised when the response rosctr does not
// match what the operation expected (AckData for reads, Ack for writes).
type RequestNotAcknowledgedError struct {
	Got rosctr
}

func (e *RequestNotAcknowledgedError) Error() string {
	return fmt.Sprintf("s7: request not acknowledged (rosctr=%#x)", byte(e.Got))
}

// ResponseDoesNotBelongToCurrentPDUError is raised on a pdu_ref mismatch
// between request and response.
type ResponseDoesNotBelongToCurrentPDUError struct {
	Want, Got uint16
}

func (e *ResponseDoesNotBelongToCurrentPDUError) Error() string {
	return fmt.Sprintf("s7: response pdu_ref %d does not match request %d", e.Got, e.Want)
}

// S7 header error classes (§4.5).
const (
	errClassNoError     = 0x00
	errClassAppRelation = 0x81
	errClassObjDef      = 0x82
	errClassResource    = 0x83
	errClassService     = 0x84
	errClassSupplies    = 0x85
	errClassAccess      = 0x87
)

// S7ProtocolError wraps a non-zero header error_class/error_code.
type S7ProtocolError struct {
	Class byte
	Code  byte
}

func (e *S7ProtocolError) Error() string {
	return fmt.Sprintf("s7: protocol error: %s (code %d)", s7ErrorClassName(e.Class), e.Code)
}

func s7ErrorClassName(class byte) string {
	switch class {
	case errClassNoError:
		return "no error"
	case errClassAppRelation:
		return "application relationship error"
	case errClassObjDef:
		return "object definition error"
	case errClassResource:
		return "no resources available error"
	case errClassService:
		return "error on service processing"
	case errClassSupplies:
		return "error on supplies"
	case errClassAccess:
		return "access error"
	default:
		return "unknown error class"
	}
}

// Data item return codes (§4.5).
const (
	dataItemSuccess          = 0xFF
	dataItemReserved         = 0x00
	dataItemHardwareFault    = 0x01
	dataItemAccessNotAllowed = 0x03
	dataItemAddressOutOfRange = 0x05
	dataItemDataTypeNotSupported = 0x06
	dataItemDataTypeInconsistent = 0x07
	dataItemObjectDoesNotExist   = 0x0A
)

// DataItemError wraps a per-item error_code ≠ 0xFF from a DataItem.
type DataItemError struct {
	Code byte
}

func (e *DataItemError) Error() string { return fmt.Sprintf("s7: data item: %s", e.Kind()) }

// Kind returns the classified name of the underlying error_code.
func (e *DataItemError) Kind() string {
	switch e.Code {
	case dataItemReserved:
		return "reserved"
	case dataItemHardwareFault:
		return "hardware fault"
	case dataItemAccessNotAllowed:
		return "access not allowed"
	case dataItemAddressOutOfRange:
		return "address out of range"
	case dataItemDataTypeNotSupported:
		return "data type not supported"
	case dataItemDataTypeInconsistent:
		return "data type inconsistent"
	case dataItemObjectDoesNotExist:
		return "object does not exist"
	default:
		return fmt.Sprintf("unknown (0x%02X)", e.Code)
	}
}

// --- Pre-flight validation errors (§7, raised before any wire traffic) -----

type RequestedBitOutOfRangeError struct{ Bit int }

func (e *RequestedBitOutOfRangeError) Error() string {
	return fmt.Sprintf("s7: requested bit %d out of range (0..%d)", e.Bit, MaxBitIndex)
}

type TooManyItemsInOneRequestError struct {
	ParamSize, PDULength int
}

func (e *TooManyItemsInOneRequestError) Error() string {
	return fmt.Sprintf("s7: too many items in one request: param size %d exceeds pdu_length %d", e.ParamSize, e.PDULength)
}

type TooMuchDataToWriteError struct {
	DataSize, PDULength int
}

func (e *TooMuchDataToWriteError) Error() string {
	return fmt.Sprintf("s7: too much data to write: %d exceeds pdu_length %d", e.DataSize, e.PDULength)
}

type ResponseDataWouldBeTooLargeError struct {
	ReqSize, MaxPDU int
}

func (e *ResponseDataWouldBeTooLargeError) Error() string {
	return fmt.Sprintf("s7: response data would be too large: %d exceeds %d", e.ReqSize, e.MaxPDU)
}

type InvalidTriggerCollectionError struct {
	ID string
}

func (e *InvalidTriggerCollectionError) Error() string {
	return fmt.Sprintf("s7: invalid trigger collection: access %q is not a bit access", e.ID)
}

// PoolError wraps a pool acquire/build failure.
type PoolError struct {
	Reason string
}

func (e *PoolError) Error() string { return fmt.Sprintf("s7: pool: %s", e.Reason) }

// IsConnectionError classifies err as a connection error (§7 propagation
// rule): transport/ISO failures that must close the owning Session.
func IsConnectionError(err error) bool {
	switch err.(type) {
	case *ConnectionError, *DataExchangeTimedOutError, *IsoError:
		return true
	default:
		return false
	}
}
