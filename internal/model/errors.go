package model

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrDuplicateActiveOrder = errors.New("duplicate active order")
	ErrAlreadyRefunded      = errors.New("already refunded")
	ErrSuspended            = errors.New("suspended")

	ErrInvalidInput       = errors.New("invalid input")
	ErrPriorityRestricted = errors.New("priority unavailable for members")
	ErrCooldown           = errors.New("cooldown active")
	ErrBlacklisted        = errors.New("origin blacklisted")
)
