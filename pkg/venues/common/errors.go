package common

import "errors"

// Error taxonomy shared by the aggregator and all connectors. Argument
// validation fails the whole call before any venue is contacted; everything
// else stays local to one venue's envelope entry.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrVenueRejected    = errors.New("venue rejected order")
	ErrVenueUnreachable = errors.New("venue unreachable")
	ErrOrderNotFound    = errors.New("order not found")
	ErrDecode           = errors.New("malformed push frame")
	ErrOutOfOrderUpdate = errors.New("out-of-order update")
	ErrUnknownStatus    = errors.New("unmapped venue status")
	ErrUnknownSymbol    = errors.New("symbol not listed on venue")
)
