package s7

import (
	"strings"
	"testing"
)

func TestIsConnectionErrorClassifiesTransportErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"connection error", &ConnectionError{Reason: "dial refused"}, true},
		{"timeout", &DataExchangeTimedOutError{}, true},
		{"iso error", &IsoError{Reason: "InvalidPDU"}, true},
		{"short packet", &ShortPacketError{What: "x", Need: 2, Got: 1}, false},
		{"protocol error", &S7ProtocolError{Class: errClassAccess, Code: 1}, false},
		{"data item error", &DataItemError{Code: dataItemAddressOutOfRange}, false},
		{"pool error", &PoolError{Reason: "at capacity"}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsConnectionError(c.err); got != c.want {
				t.Fatalf("IsConnectionError(%T) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestDataItemErrorKindClassification(t *testing.T) {
	cases := []struct {
		code byte
		want string
	}{
		{dataItemReserved, "reserved"},
		{dataItemHardwareFault, "hardware fault"},
		{dataItemAccessNotAllowed, "access not allowed"},
		{dataItemAddressOutOfRange, "address out of range"},
		{dataItemDataTypeNotSupported, "data type not supported"},
		{dataItemDataTypeInconsistent, "data type inconsistent"},
		{dataItemObjectDoesNotExist, "object does not exist"},
	}
	for _, c := range cases {
		e := &DataItemError{Code: c.code}
		if got := e.Kind(); got != c.want {
			t.Fatalf("Kind(%#x) = %q, want %q", c.code, got, c.want)
		}
	}
}

func TestDataItemErrorKindUnknownCode(t *testing.T) {
	e := &DataItemError{Code: 0x77}
	if got := e.Kind(); got == "" {
		t.Fatalf("expected a non-empty classification for an unknown code")
	}
}

func TestS7ProtocolErrorMessageNamesClass(t *testing.T) {
	e := &S7ProtocolError{Class: errClassAccess, Code: 4}
	if got := e.Error(); !strings.Contains(got, "access error") {
		t.Fatalf("error string %q does not name the access error class", got)
	}
}

func TestResponseDoesNotBelongToCurrentPDUErrorCarriesBoth(t *testing.T) {
	e := &ResponseDoesNotBelongToCurrentPDUError{Want: 4, Got: 9}
	if e.Want != 4 || e.Got != 9 {
		t.Fatalf("fields not preserved: %+v", e)
	}
}
