package app

import (
	"github.com/sirupsen/logrus"

	"taxi/internal/config"
	"taxi/internal/paynow"
)

// PaynowConfig maps environment settings onto the gateway client config.
func PaynowConfig(cfg config.PaynowConfig) paynow.Config {
	return paynow.Config{
		IntegrationID:   cfg.IntegrationID,
		IntegrationKey:  cfg.IntegrationKey,
		InitiateURL:     cfg.InitiateURL,
		CheckPaymentURL: cfg.CheckPaymentURL,
		ReturnURL:       cfg.ReturnURL,
		ResultURL:       cfg.ResultURL,
		MerchantEmail:   cfg.MerchantEmail,
		VerifySSL:       cfg.VerifySSL,
		CreateTimeout:   cfg.CreateTimeout,
		PollTimeout:     cfg.PollTimeout,
	}
}

// NewPaynowClient creates the gateway client.
func NewPaynowClient(cfg config.PaynowConfig, logger logrus.FieldLogger) *paynow.Client {
	return paynow.NewClient(PaynowConfig(cfg), paynow.WithLogger(logger.WithField("component", "paynow")))
}

// NewPaynowVerifier creates the notification verifier. Diagnostic candidates
// are only enabled when the config allows them.
func NewPaynowVerifier(cfg config.PaynowConfig) *paynow.Verifier {
	return paynow.NewVerifier(cfg.IntegrationKey, paynow.WithDiagnostics(cfg.Diagnostics))
}
