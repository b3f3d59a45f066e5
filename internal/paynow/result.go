package paynow

import "github.com/shopspring/decimal"

// FailureKind classifies a hard initiation failure.
type FailureKind string

const (
	FailureTimeout    FailureKind = "timeout"
	FailureTLS        FailureKind = "tls"
	FailureConnection FailureKind = "connection"
	FailureRequest    FailureKind = "request"
	FailureHTTPStatus FailureKind = "http_status"
	FailureRejected   FailureKind = "rejected"
	FailureConfig     FailureKind = "config"
)

// InitResult is the normalized outcome of CreateTransaction. It is one of
// InitSuccess, InitSoftFailure or InitHardFailure.
type InitResult interface {
	isInitResult()
}

// InitSuccess means the gateway accepted the transaction.
type InitSuccess struct {
	RedirectURL       string
	PollURL           string
	ProviderReference string
	Raw               map[string]string
}

// InitSoftFailure means the gateway did not confirm the transaction, but it
// may still exist remotely and later notifications can settle it.
type InitSoftFailure struct {
	PollURL           string
	ProviderReference string
	Reason            string
	Raw               map[string]string
}

// InitHardFailure means no usable transaction was created, as far as the
// client can tell.
type InitHardFailure struct {
	Kind       FailureKind
	Message    string
	StatusCode int
}

func (InitSuccess) isInitResult()     {}
func (InitSoftFailure) isInitResult() {}
func (InitHardFailure) isInitResult() {}

// Ambiguous reports whether the transaction might exist on the gateway
// despite the failure.
func (f InitHardFailure) Ambiguous() bool {
	switch f.Kind {
	case FailureTimeout:
		return true
	case FailureHTTPStatus:
		return f.StatusCode >= 500
	}
	return false
}

// PollResult is the normalized outcome of PollStatus.
type PollResult struct {
	Paid              bool
	Status            string
	Amount            *decimal.Decimal
	ProviderReference string
	// Structured is true when the status came from a parsed JSON or form
	// body rather than a keyword scan.
	Structured bool
	Raw        map[string]string
}
