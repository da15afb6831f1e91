package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrMarketConcluded      = errors.New("market concluded")
	ErrSlippageExceeded     = errors.New("price above caller maximum")
	ErrMaxSizeExceeded      = errors.New("payout exceeds max payout")
	ErrInsufficientCapacity = errors.New("insufficient market capacity")
	ErrTransferNotApproved  = errors.New("note transfer not approved")
	ErrNoteAlreadyRedeemed  = errors.New("note already redeemed")
	ErrNoteNotFound         = errors.New("note not found")
	ErrInvalidConfiguration = errors.New("invalid market configuration")
	ErrInsufficientBalance  = errors.New("insufficient token balance")
	ErrLockHeld             = errors.New("lock already held")
)
