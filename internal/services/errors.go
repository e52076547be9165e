package services

import "errors"

// Fatal errors propagate to the webhook handler unmodified so the delivery
// layer can retry or dead-letter the whole payload. Everything else is
// contained per item.
var (
	ErrMissingPhoneNumberID = errors.New("payload metadata has no phone_number_id")
	ErrConfigNotFound       = errors.New("no connection configured for phone_number_id")
	ErrTrackingCodeNotFound = errors.New("onboarding tracking code not found")
)
