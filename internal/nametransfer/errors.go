package nametransfer

import "errors"

var (
	ErrVoucherCollectionUnset = errors.New("nametransfer: voucher collection address not configured")
	ErrUnknownOutcome         = errors.New("nametransfer: unknown packet outcome")
)
