// Package paynow talks to the Paynow payment gateway and authenticates the
// notifications it sends back.
package paynow

import (
	"context"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// InitRequest holds the parameters of a new gateway transaction.
type InitRequest struct {
	Amount    decimal.Decimal
	Reference string
	Email     string
	Phone     string
	Info      string
}

// Client is the Paynow gateway client. It performs no retries; callers own
// the retry policy.
type Client struct {
	cfg    Config
	http   *resty.Client
	logger logrus.FieldLogger
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithLogger sets the logger used for gateway diagnostics.
func WithLogger(logger logrus.FieldLogger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a Paynow client.
func NewClient(cfg Config, opts ...ClientOption) *Client {
	cfg = cfg.withDefaults()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for sandbox gateways
	}

	c := &Client{
		cfg: cfg,
		http: resty.New().
			SetTransport(newrelic.NewRoundTripper(transport)).
			SetHeader("User-Agent", "taxi-paynow/1.0"),
		logger: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective client configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// CheckPaymentURL composes the fallback poll handle for a provider reference.
func (c *Client) CheckPaymentURL(providerReference string) string {
	return c.cfg.CheckPaymentURLFor(providerReference)
}

// CreateTransaction initiates a transaction where the payer picks the
// payment instrument on the gateway's page. It never returns an error:
// every failure is described by the returned InitResult.
func (c *Client) CreateTransaction(ctx context.Context, req InitRequest) InitResult {
	if !c.cfg.Configured() {
		return InitHardFailure{Kind: FailureConfig, Message: ErrNotConfigured.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.CreateTimeout)
	defer cancel()

	authEmail := c.cfg.MerchantEmail
	if authEmail == "" {
		authEmail = req.Email
	}
	info := req.Info
	if info == "" {
		info = "Taxi booking " + req.Reference
	}

	form := url.Values{}
	form.Set("id", c.cfg.IntegrationID)
	form.Set("reference", req.Reference)
	form.Set("amount", req.Amount.StringFixed(2))
	form.Set("additionalinfo", info)
	form.Set("returnurl", c.cfg.ReturnURL)
	form.Set("resulturl", c.cfg.ResultURL)
	form.Set("authemail", authEmail)
	if req.Phone != "" {
		form.Set("phone", req.Phone)
	}
	form.Set("status", "Message")
	form.Set("hash", RequestHash(form, c.cfg.IntegrationKey))

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(form.Encode()).
		Post(c.cfg.InitiateURL)
	if err != nil {
		kind := classifyTransportError(err)
		c.logger.WithError(err).WithFields(logrus.Fields{
			"reference": req.Reference,
			"kind":      kind,
		}).Error("paynow initiate request failed")
		return InitHardFailure{Kind: kind, Message: err.Error()}
	}

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		c.logger.WithFields(logrus.Fields{
			"reference": req.Reference,
			"status":    resp.StatusCode(),
		}).Error("paynow initiate returned non-2xx")
		return InitHardFailure{
			Kind:       FailureHTTPStatus,
			Message:    fmt.Sprintf("gateway answered HTTP %d", resp.StatusCode()),
			StatusCode: resp.StatusCode(),
		}
	}

	fields, err := parseFields(resp.Body())
	if err != nil {
		c.logger.WithError(err).WithField("reference", req.Reference).Warn("paynow initiate response not understood")
		return InitSoftFailure{
			Reason: err.Error(),
			Raw:    map[string]string{"raw_response": truncate(resp.String(), 2048)},
		}
	}

	return interpretInit(fields)
}

// PollStatus queries a poll handle. Unparseable content degrades to a
// keyword scan; only transport failures return an error.
func (c *Client) PollStatus(ctx context.Context, pollURL string) (PollResult, error) {
	if pollURL == "" {
		return PollResult{}, fmt.Errorf("%w: empty poll url", ErrProtocol)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
	defer cancel()

	resp, err := c.http.R().SetContext(ctx).Get(pollURL)
	if err != nil {
		return PollResult{}, fmt.Errorf("%w: %s: %v", ErrTransport, classifyTransportError(err), err)
	}
	if resp.StatusCode() >= 500 {
		return PollResult{}, fmt.Errorf("%w: gateway answered HTTP %d", ErrTransport, resp.StatusCode())
	}

	result := interpretPoll(resp.Body())
	c.logger.WithFields(logrus.Fields{
		"poll_url":   pollURL,
		"paid":       result.Paid,
		"status":     result.Status,
		"structured": result.Structured,
	}).Debug("paynow poll")
	return result, nil
}

// RequestHash signs an outbound request: the upper-case hex SHA512 of every
// value except "hash", in encoded key order, followed by the integration key.
func RequestHash(form url.Values, key string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		if strings.EqualFold(k, "hash") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range form[k] {
			b.WriteString(v)
		}
	}
	b.WriteString(key)

	sum := sha512.Sum512([]byte(b.String()))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

func classifyTransportError(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}

	var (
		recordErr   tls.RecordHeaderError
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		certInvalid x509.CertificateInvalidError
	)
	if errors.As(err, &recordErr) || errors.As(err, &verifyErr) || errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) || errors.As(err, &certInvalid) {
		return FailureTLS
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FailureConnection
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureConnection
	}
	return FailureRequest
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
