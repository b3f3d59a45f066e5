package paynow

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
)

// SignatureHeader carries an HMAC-SHA256 of the raw body when the gateway
// signs at the header level.
const SignatureHeader = "X-Paynow-Signature"

// Notification is an inbound gateway notification as received.
type Notification struct {
	RawBody []byte
	Header  http.Header
	Form    url.Values
}

// ParseNotification builds a Notification from a raw form-encoded body.
// A body that does not parse cleanly still yields whatever pairs were valid.
func ParseNotification(raw []byte, header http.Header) Notification {
	form, _ := url.ParseQuery(string(raw))
	if form == nil {
		form = url.Values{}
	}
	if header == nil {
		header = http.Header{}
	}
	return Notification{RawBody: raw, Header: header, Form: form}
}

// Field returns the first value of a form field, matching its name
// case-insensitively.
func (n Notification) Field(name string) (string, bool) {
	if v, ok := n.Form[name]; ok && len(v) > 0 {
		return v[0], true
	}
	for k, v := range n.Form {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0], true
		}
	}
	return "", false
}

// Value is Field without the presence flag.
func (n Notification) Value(name string) string {
	v, _ := n.Field(name)
	return v
}

// Verdict is the outcome of verifying a notification.
type Verdict struct {
	Accepted  bool
	Strategy  string
	Candidate string
	Reason    string
}

// Strategy is one way a notification may carry signature material.
type Strategy interface {
	Name() string
	// Applies reports whether n carries this strategy's material. The first
	// applicable strategy decides the verdict.
	Applies(n Notification) bool
	Verify(n Notification, key []byte) Verdict
}

// Verifier authenticates gateway notifications against an ordered list of
// strategies.
type Verifier struct {
	key         []byte
	diagnostics bool
	strategies  []Strategy
}

// VerifierOption customises a Verifier.
type VerifierOption func(*Verifier)

// WithDiagnostics enables the extra hash candidates used to investigate the
// gateway's scheme. It must stay off in production.
func WithDiagnostics(enabled bool) VerifierOption {
	return func(v *Verifier) { v.diagnostics = enabled }
}

// WithStrategies replaces the default strategy list.
func WithStrategies(strategies ...Strategy) VerifierOption {
	return func(v *Verifier) { v.strategies = strategies }
}

// NewVerifier creates a Verifier for the integration key.
func NewVerifier(key string, opts ...VerifierOption) *Verifier {
	v := &Verifier{key: []byte(key)}
	for _, opt := range opts {
		opt(v)
	}
	if v.strategies == nil {
		v.strategies = DefaultStrategies(v.diagnostics)
	}
	return v
}

// DefaultStrategies returns header signature, form signature and hash field
// strategies in precedence order.
func DefaultStrategies(diagnostics bool) []Strategy {
	hash := NewHashFieldStrategy(ProductionCandidates()...)
	if diagnostics {
		hash = NewHashFieldStrategy(append(ProductionCandidates(), DiagnosticCandidates()...)...)
	}
	return []Strategy{
		HeaderSignatureStrategy{},
		FormSignatureStrategy{},
		hash,
	}
}

// Verify decides whether n is authentic.
func (v *Verifier) Verify(n Notification) Verdict {
	if len(v.key) == 0 {
		return Verdict{Reason: "integration key not configured"}
	}
	for _, s := range v.strategies {
		if s.Applies(n) {
			return s.Verify(n, v.key)
		}
	}
	return Verdict{Reason: "no signature material"}
}

// CandidateReport describes one digest computed while explaining a
// notification.
type CandidateReport struct {
	Strategy  string
	Candidate string
	Digest    string
	Match     bool
}

// Explain computes every digest the verifier knows for n, including the
// diagnostic ones, and reports which of them match the supplied material.
func (v *Verifier) Explain(n Notification) (incoming string, reports []CandidateReport) {
	if sig := strings.TrimSpace(n.Header.Get(SignatureHeader)); sig != "" {
		incoming = sig
	} else if sig, ok := n.Field("signature"); ok {
		incoming = strings.TrimSpace(sig)
	} else if h, ok := n.Field("hash"); ok {
		incoming = strings.TrimSpace(h)
	}

	all := append(ProductionCandidates(), DiagnosticCandidates()...)
	for _, c := range all {
		digest := c.Digest(n, v.key)
		reports = append(reports, CandidateReport{
			Strategy:  "hash",
			Candidate: c.Name(),
			Digest:    digest,
			Match:     incoming != "" && equalFoldConstantTime(digest, incoming),
		})
	}
	return incoming, reports
}

// HeaderSignatureStrategy checks the X-Paynow-Signature header.
type HeaderSignatureStrategy struct{}

func (HeaderSignatureStrategy) Name() string { return "header_signature" }

func (HeaderSignatureStrategy) Applies(n Notification) bool {
	return strings.TrimSpace(n.Header.Get(SignatureHeader)) != ""
}

func (s HeaderSignatureStrategy) Verify(n Notification, key []byte) Verdict {
	got := strings.TrimSpace(n.Header.Get(SignatureHeader))
	return exactVerdict(s.Name(), got, hmacSHA256Hex(key, n.RawBody))
}

// FormSignatureStrategy checks a "signature" form field.
type FormSignatureStrategy struct{}

func (FormSignatureStrategy) Name() string { return "form_signature" }

func (FormSignatureStrategy) Applies(n Notification) bool {
	v, ok := n.Field("signature")
	return ok && strings.TrimSpace(v) != ""
}

func (s FormSignatureStrategy) Verify(n Notification, key []byte) Verdict {
	got := strings.TrimSpace(n.Value("signature"))
	return exactVerdict(s.Name(), got, hmacSHA256Hex(key, n.RawBody))
}

func exactVerdict(strategy, got, want string) Verdict {
	if hmac.Equal([]byte(got), []byte(want)) {
		return Verdict{Accepted: true, Strategy: strategy, Candidate: "hmac_sha256_raw"}
	}
	return Verdict{Strategy: strategy, Reason: "signature mismatch"}
}

// HashFieldStrategy checks a "hash" form field against a list of candidate
// digests, accepting on the first match.
type HashFieldStrategy struct {
	candidates []Candidate
}

// NewHashFieldStrategy creates a hash strategy trying candidates in order.
func NewHashFieldStrategy(candidates ...Candidate) *HashFieldStrategy {
	return &HashFieldStrategy{candidates: candidates}
}

func (*HashFieldStrategy) Name() string { return "hash_field" }

func (*HashFieldStrategy) Applies(n Notification) bool {
	v, ok := n.Field("hash")
	return ok && strings.TrimSpace(v) != ""
}

func (s *HashFieldStrategy) Verify(n Notification, key []byte) Verdict {
	got := strings.TrimSpace(n.Value("hash"))
	for _, c := range s.candidates {
		if equalFoldConstantTime(c.Digest(n, key), got) {
			return Verdict{Accepted: true, Strategy: s.Name(), Candidate: c.Name()}
		}
	}
	return Verdict{Strategy: s.Name(), Reason: "no hash candidate matched"}
}

func equalFoldConstantTime(a, b string) bool {
	return hmac.Equal([]byte(strings.ToLower(a)), []byte(strings.ToLower(b)))
}

func hmacSHA256Hex(key, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
