package domain

import "errors"

var (
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidConfig         = errors.New("invalid_config")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrInvalidSubscription   = errors.New("invalid_subscription")
	ErrInvalidPayment        = errors.New("invalid_payment")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrEventNotFound         = errors.New("event_not_found")
	ErrInconclusive          = errors.New("provider_inconclusive")
	ErrProviderRejected      = errors.New("provider_rejected")
	ErrGatewayNotConfigured  = errors.New("gateway_not_configured")
)
