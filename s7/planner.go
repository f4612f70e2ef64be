package s7

// Fixed overheads used by the planner's budget arithmetic (§4.4).
const (
	respHeaderLen  = 12 // H_resp: response S7 header (with error_class/code)
	paramHdrLen    = 2  // Π: read/write parameter segment header (function_code, item_count)
	dataItemHdrSz  = 4  // D_hdr: DataItem header
	multiReadReqBase  = 19 // request budget constant for read_multi
	multiReadRespBase = 14 // response budget constant for read_multi
	writeReqItemSz    = 18 // per-item request-parameter cost for write
	writeDataItemSz   = 16 // per-item data cost for write
)

// addressToRequestItem builds the S7ANY requestItem for one ReadAccess
// (or the ReadAccess half of a WriteAccess), applying the address
// encoding rule from §4.4: Bit/Counter/Timer use the raw address;
// everything else uses byteOffset*8.
func addressToRequestItem(a ReadAccess, count uint16) requestItem {
	vt := varTypeByte
	var addr uint32

	switch {
	case a.isBit:
		vt = varTypeBit
		addr = uint32(a.Byte)*8 + uint32(a.Bit)
	case a.Area == AreaCounter:
		vt = varTypeCounter
		addr = uint32(a.Start)
	case a.Area == AreaTimer:
		vt = varTypeTimer
		addr = uint32(a.Start)
	default:
		addr = uint32(a.Start) * 8
	}

	return requestItem{
		VarType:  vt,
		Count:    count,
		DBNumber: uint16(a.DB),
		Area:     a.Area,
		Address:  addr & 0xFFFFFF, // truncate to 24 significant bits
	}
}

// validateBit checks a ReadAccess/WriteAccess bit index against
// MaxBitIndex (§8 invariant 5).
func validateBit(a ReadAccess) error {
	if a.isBit && (a.Bit < 0 || a.Bit > MaxBitIndex) {
		return &RequestedBitOutOfRangeError{Bit: a.Bit}
	}
	return nil
}

// planSingleRead splits a single ReadAccess into one or more sub-accesses
// that each fit within the negotiated pdu_length (§4.4 "Single read").
// Bit reads are never split (length always 1).
func planSingleRead(a ReadAccess, pduLength int) ([]ReadAccess, error) {
	if err := validateBit(a); err != nil {
		return nil, err
	}
	if a.isBit {
		return []ReadAccess{a}, nil
	}

	maxPayload := pduLength - respHeaderLen - paramHdrLen - dataItemHdrSz
	if maxPayload <= 0 {
		return nil, &ResponseDataWouldBeTooLargeError{ReqSize: a.Length, MaxPDU: pduLength}
	}

	expectedRespSize := a.Length + dataItemHdrSz + 14
	if expectedRespSize <= pduLength {
		return []ReadAccess{a}, nil
	}

	var chunks []ReadAccess
	remaining := a.Length
	offset := a.Start
	for remaining > 0 {
		n := maxPayload
		if n > remaining {
			n = remaining
		}
		chunks = append(chunks, Bytes(a.Area, a.DB, offset, n))
		offset += n
		remaining -= n
	}
	return chunks, nil
}

// validateMultiRead enforces the request and response budgets for
// read_area_multi (§4.4 "Multi read"). No splitting is performed.
func validateMultiRead(accesses []ReadAccess, pduLength int) error {
	for _, a := range accesses {
		if err := validateBit(a); err != nil {
			return err
		}
	}

	n := len(accesses)
	reqSize := multiReadReqBase + 12*n
	if reqSize > pduLength {
		return &TooManyItemsInOneRequestError{ParamSize: reqSize, PDULength: pduLength}
	}

	respSize := multiReadRespBase + 4*n
	for _, a := range accesses {
		respSize += a.byteLength()
	}
	if respSize > pduLength {
		return &ResponseDataWouldBeTooLargeError{ReqSize: respSize, MaxPDU: pduLength}
	}
	return nil
}

// validateWrite enforces the request-parameter and data budgets shared by
// single and multi write (§4.4 "Single write and multi write").
func validateWrite(accesses []WriteAccess, pduLength int) error {
	for _, w := range accesses {
		if err := validateBit(w.Access); err != nil {
			return err
		}
	}

	n := len(accesses)
	reqSize := n*writeReqItemSz + tpktHeaderLen
	if reqSize > pduLength {
		return &TooManyItemsInOneRequestError{ParamSize: reqSize, PDULength: pduLength}
	}

	dataSize := n*writeDataItemSz + tpktHeaderLen
	for _, w := range accesses {
		dataSize += payloadLen(w)
	}
	if dataSize > pduLength {
		return &TooMuchDataToWriteError{DataSize: dataSize, PDULength: pduLength}
	}
	return nil
}

func payloadLen(w WriteAccess) int {
	if w.Access.isBit {
		return 1
	}
	return len(w.Bytes)
}

// nextPDURef advances the monotonic 16-bit pdu_ref counter (§4.4
// "PDU-ref advancement"), wrapping modulo 2^16.
func nextPDURef(cur uint16) uint16 {
	return cur + 1
}
