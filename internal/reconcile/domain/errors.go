package domain

import "errors"

var (
	ErrInvalidCustomer  = errors.New("invalid_customer")
	ErrNoPendingPayment = errors.New("no_pending_payment")
	ErrBusy             = errors.New("subscription_busy")
)
