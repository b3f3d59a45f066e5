package paynow

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"net/url"
	"strings"
)

// Candidate computes one possible digest of a notification. Digests are
// lower-case hex.
type Candidate interface {
	Name() string
	Digest(n Notification, key []byte) string
}

// ProductionCandidates are the digests accepted for a "hash" field.
func ProductionCandidates() []Candidate {
	return []Candidate{
		rawHMAC{name: "hmac_sha256_raw", h: sha256.New},
		rawHMAC{name: "hmac_sha512_raw", h: sha512.New},
		rawKeyed{name: "sha256_raw_key", h: sha256.New},
		rawKeyed{name: "sha512_raw_key", h: sha512.New},
	}
}

// DiagnosticCandidates are tried only outside production while the
// gateway's exact scheme is being pinned down.
func DiagnosticCandidates() []Candidate {
	return []Candidate{
		strippedHMAC{name: "hmac_sha512_stripped"},
		strippedHMAC{name: "hmac_sha512_decoded", decode: true},
		fieldConcat{name: "sha512_concat_end_key", order: keyLast},
		fieldConcat{name: "sha512_concat_start_key", order: keyFirst},
		fieldConcat{name: "sha512_concat_status_lower", order: keyLast, lowerStatus: true},
		fieldConcat{name: "hmac_sha512_concat", order: keyAsHMAC},
		orderedValues{name: "sha512_values_key"},
	}
}

type rawHMAC struct {
	name string
	h    func() hash.Hash
}

func (c rawHMAC) Name() string { return c.name }

func (c rawHMAC) Digest(n Notification, key []byte) string {
	mac := hmac.New(c.h, key)
	mac.Write(n.RawBody)
	return hex.EncodeToString(mac.Sum(nil))
}

type rawKeyed struct {
	name string
	h    func() hash.Hash
}

func (c rawKeyed) Name() string { return c.name }

func (c rawKeyed) Digest(n Notification, key []byte) string {
	h := c.h()
	h.Write(n.RawBody)
	h.Write(key)
	return hex.EncodeToString(h.Sum(nil))
}

type strippedHMAC struct {
	name   string
	decode bool
}

func (c strippedHMAC) Name() string { return c.name }

func (c strippedHMAC) Digest(n Notification, key []byte) string {
	body := stripHashPair(string(n.RawBody))
	if c.decode {
		if decoded, err := url.QueryUnescape(body); err == nil {
			body = decoded
		}
	}
	mac := hmac.New(sha512.New, key)
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

type concatOrder int

const (
	keyLast concatOrder = iota
	keyFirst
	keyAsHMAC
)

// fieldConcat hashes reference, paynowreference, amount, status and pollurl
// joined without separators.
type fieldConcat struct {
	name        string
	order       concatOrder
	lowerStatus bool
}

func (c fieldConcat) Name() string { return c.name }

func (c fieldConcat) Digest(n Notification, key []byte) string {
	status := n.Value("status")
	if c.lowerStatus {
		status = strings.ToLower(status)
	}
	fields := n.Value("reference") + n.Value("paynowreference") + n.Value("amount") + status + n.Value("pollurl")

	switch c.order {
	case keyFirst:
		sum := sha512.Sum512(append(append([]byte{}, key...), fields...))
		return hex.EncodeToString(sum[:])
	case keyAsHMAC:
		mac := hmac.New(sha512.New, key)
		mac.Write([]byte(fields))
		return hex.EncodeToString(mac.Sum(nil))
	default:
		sum := sha512.Sum512(append([]byte(fields), key...))
		return hex.EncodeToString(sum[:])
	}
}

// orderedValues hashes every decoded value except "hash", in body order,
// followed by the key.
type orderedValues struct {
	name string
}

func (c orderedValues) Name() string { return c.name }

func (c orderedValues) Digest(n Notification, key []byte) string {
	var b strings.Builder
	for _, pair := range splitPairs(string(n.RawBody)) {
		if strings.EqualFold(pair.key, "hash") {
			continue
		}
		b.WriteString(pair.value)
	}
	b.Write(key)
	sum := sha512.Sum512([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

type formPair struct {
	raw   string
	key   string
	value string
}

func splitPairs(body string) []formPair {
	var pairs []formPair
	for _, segment := range strings.Split(body, "&") {
		if segment == "" {
			continue
		}
		k, v, _ := strings.Cut(segment, "=")
		dk, err := url.QueryUnescape(k)
		if err != nil {
			dk = k
		}
		dv, err := url.QueryUnescape(v)
		if err != nil {
			dv = v
		}
		pairs = append(pairs, formPair{raw: segment, key: dk, value: dv})
	}
	return pairs
}

// stripHashPair removes the hash pair from a raw body, keeping every other
// segment byte-for-byte.
func stripHashPair(body string) string {
	var kept []string
	for _, pair := range splitPairs(body) {
		if strings.EqualFold(pair.key, "hash") {
			continue
		}
		kept = append(kept, pair.raw)
	}
	return strings.Join(kept, "&")
}

// Sign returns the X-Paynow-Signature value for a raw body.
func Sign(body []byte, key string) string {
	return hmacSHA256Hex([]byte(key), body)
}

// IsDiagnosticCandidate reports whether the named candidate is only tried
// when diagnostics are enabled.
func IsDiagnosticCandidate(name string) bool {
	for _, c := range DiagnosticCandidates() {
		if c.Name() == name {
			return true
		}
	}
	return false
}

// DigestFor computes the named candidate's digest over a raw form body.
func DigestFor(candidate string, body []byte, key string) (string, error) {
	n := ParseNotification(body, nil)
	for _, c := range append(ProductionCandidates(), DiagnosticCandidates()...) {
		if c.Name() == candidate {
			return c.Digest(n, []byte(key)), nil
		}
	}
	return "", fmt.Errorf("unknown hash candidate %q", candidate)
}
