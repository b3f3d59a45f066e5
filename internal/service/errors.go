package service

import "errors"

var (
	// ErrInvalidBooking is returned when a booking request is missing required fields.
	ErrInvalidBooking = errors.New("invalid booking")

	// ErrInvalidPaymentOption is returned when the payment option is neither POA nor PAYNOW.
	ErrInvalidPaymentOption = errors.New("invalid payment option")

	// ErrInvalidPaymentID is returned when payment ID is empty.
	ErrInvalidPaymentID = errors.New("invalid payment id")

	// ErrDistanceUnavailable is returned when no distance was supplied and the lookup failed.
	ErrDistanceUnavailable = errors.New("unable to compute distance")

	// ErrInvalidSignature is returned when a gateway notification fails verification.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrUnresolvedReference is logged when a notification matches no payment.
	ErrUnresolvedReference = errors.New("unresolved payment reference")

	// ErrAmountMismatch is recorded when the gateway reports a paid amount that differs from the payment.
	ErrAmountMismatch = errors.New("amount mismatch")

	// ErrPaymentInitiationFailed is returned when the gateway definitely refused a new transaction.
	ErrPaymentInitiationFailed = errors.New("payment initiation failed")

	// ErrNoPollURL is returned when a payment has no poll handle to check.
	ErrNoPollURL = errors.New("no poll url available for this payment")

	// ErrPollFailed is returned when the gateway could not be polled.
	ErrPollFailed = errors.New("payment status check failed")
)
