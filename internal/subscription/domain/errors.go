package domain

import "errors"

var (
	ErrSubscriptionNotFound   = errors.New("subscription_not_found")
	ErrPaymentNotFound        = errors.New("payment_not_found")
	ErrOpenSubscriptionExists = errors.New("open_subscription_exists")
	ErrInvalidSubscriptionID  = errors.New("invalid_subscription_id")
	ErrInvalidOwnerID         = errors.New("invalid_owner_id")
	ErrInvalidBillingMethod   = errors.New("invalid_billing_method")
	ErrInvalidValue           = errors.New("invalid_value")
	ErrCanceledIsTerminal     = errors.New("canceled_is_terminal")
	ErrConcurrentStatusChange = errors.New("concurrent_status_change")
)
