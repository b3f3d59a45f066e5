package paynow

import (
	"fmt"
	"net/url"
	"time"
)

const (
	DefaultInitiateURL     = "https://www.paynow.co.zw/interface/initiatetransaction"
	DefaultCheckPaymentURL = "https://www.paynow.co.zw/Interface/CheckPayment/"
	DefaultCreateTimeout   = 15 * time.Second
	DefaultPollTimeout     = 10 * time.Second
)

// Config holds the Paynow integration settings.
type Config struct {
	IntegrationID   string
	IntegrationKey  string
	InitiateURL     string
	CheckPaymentURL string
	ReturnURL       string
	ResultURL       string
	MerchantEmail   string
	VerifySSL       bool
	CreateTimeout   time.Duration
	PollTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitiateURL == "" {
		c.InitiateURL = DefaultInitiateURL
	}
	if c.CheckPaymentURL == "" {
		c.CheckPaymentURL = DefaultCheckPaymentURL
	}
	if c.CreateTimeout <= 0 {
		c.CreateTimeout = DefaultCreateTimeout
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}
	return c
}

// Configured reports whether credentials are present.
func (c Config) Configured() bool {
	return c.IntegrationID != "" && c.IntegrationKey != ""
}

// CheckPaymentURLFor composes a poll handle from a provider reference.
func (c Config) CheckPaymentURLFor(providerReference string) string {
	if providerReference == "" {
		return ""
	}
	base := c.CheckPaymentURL
	if base == "" {
		base = DefaultCheckPaymentURL
	}
	return fmt.Sprintf("%s?guid=%s", base, url.QueryEscape(providerReference))
}
