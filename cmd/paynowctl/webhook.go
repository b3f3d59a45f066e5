package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"taxi/internal/paynow"
)

func simulateWebhookCmd() *cobra.Command {
	var (
		target      string
		reference   string
		providerRef string
		amount      string
		status      string
		scheme      string
		candidate   string
		key         string
	)

	cmd := &cobra.Command{
		Use:   "simulate-webhook",
		Short: "POST a signed result notification to the webhook",
		Long: `Build a Paynow-style result notification, sign it with the integration key
and POST it to the result URL.

Schemes:
  header   X-Paynow-Signature: hex HMAC-SHA256 of the body (default)
  hash     a "hash" field computed with --candidate

The default hash candidate, sha512_values_key, is a diagnostic candidate.
Servers running with APP_ENV=production never enable diagnostics and answer
403 to it; use the header scheme against production.

Examples:
  paynowctl simulate-webhook --reference 6f1c... --amount 25.00 --status Paid
  paynowctl simulate-webhook --reference 6f1c... --scheme hash --candidate sha512_values_key`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := loadConfig()
			if key == "" {
				key = cfg.Paynow.IntegrationKey
			}
			if key == "" {
				return fmt.Errorf("integration key required: set PAYNOW_INTEGRATION_KEY or --key")
			}
			if target == "" {
				target = cfg.Paynow.ResultURL
			}
			if target == "" {
				target = "http://localhost:" + cfg.Server.Port + "/paynow/result"
			}
			if reference == "" && providerRef == "" {
				return fmt.Errorf("--reference or --paynow-reference is required")
			}

			form := url.Values{}
			if reference != "" {
				form.Set("reference", reference)
			}
			if providerRef != "" {
				form.Set("paynowreference", providerRef)
			}
			if amount != "" {
				form.Set("amount", amount)
			}
			form.Set("status", status)
			body := form.Encode()

			req := resty.New().SetTimeout(15*time.Second).R().
				SetHeader("Content-Type", "application/x-www-form-urlencoded")

			switch scheme {
			case "header":
				req.SetHeader(paynow.SignatureHeader, paynow.Sign([]byte(body), key))
			case "hash":
				digest, err := paynow.DigestFor(candidate, []byte(body), key)
				if err != nil {
					return err
				}
				body += "&hash=" + strings.ToUpper(digest)
				if paynow.IsDiagnosticCandidate(candidate) {
					fmt.Fprintf(cmd.ErrOrStderr(), "note: %s is a diagnostic candidate; a production server rejects it\n", candidate)
				}
			default:
				return fmt.Errorf("unknown scheme %q (want header or hash)", scheme)
			}

			resp, err := req.SetBody(body).Post(target)
			if err != nil {
				return fmt.Errorf("post webhook: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "POST %s\n", target)
			fmt.Fprintf(out, "Body:   %s\n", body)
			fmt.Fprintf(out, "Status: %d\n", resp.StatusCode())
			fmt.Fprintf(out, "Reply:  %s\n", strings.TrimSpace(resp.String()))
			if resp.StatusCode() != http.StatusOK {
				return fmt.Errorf("webhook answered %d", resp.StatusCode())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "url", "", "result URL (default PAYNOW_RESULT_URL or the local server)")
	cmd.Flags().StringVar(&reference, "reference", "", "merchant reference (local payment id)")
	cmd.Flags().StringVar(&providerRef, "paynow-reference", "", "gateway reference")
	cmd.Flags().StringVar(&amount, "amount", "", "reported amount")
	cmd.Flags().StringVar(&status, "status", "Paid", "reported status")
	cmd.Flags().StringVar(&scheme, "scheme", "header", "signing scheme: header or hash")
	cmd.Flags().StringVar(&candidate, "candidate", "sha512_values_key", "hash candidate for --scheme hash")
	cmd.Flags().StringVar(&key, "key", "", "integration key (default PAYNOW_INTEGRATION_KEY)")

	return cmd
}

func checkHashCmd() *cobra.Command {
	var (
		file      string
		signature string
		key       string
	)

	cmd := &cobra.Command{
		Use:   "check-hash [raw-body]",
		Short: "Show which signature candidates match a raw notification body",
		Long: `Compute every digest the verifier knows for a raw notification body and
report which one matches the incoming signature or hash. Reads the body from
the argument, --file, or stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := loadConfig()
			if key == "" {
				key = cfg.Paynow.IntegrationKey
			}

			var raw []byte
			var err error
			switch {
			case len(args) == 1:
				raw = []byte(args[0])
			case file != "":
				raw, err = os.ReadFile(file)
			default:
				raw, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}
			raw = []byte(strings.TrimRight(string(raw), "\r\n"))

			header := http.Header{}
			if signature != "" {
				header.Set(paynow.SignatureHeader, signature)
			}
			n := paynow.ParseNotification(raw, header)

			verifier := paynow.NewVerifier(key, paynow.WithDiagnostics(true))
			verdict := verifier.Verify(n)
			incoming, reports := verifier.Explain(n)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Incoming:  %s\n", valueOr(incoming, "(none)"))
			fmt.Fprintf(out, "Verdict:   accepted=%t strategy=%s candidate=%s reason=%s\n",
				verdict.Accepted, verdict.Strategy, verdict.Candidate, verdict.Reason)
			fmt.Fprintln(out, "\nCandidates:")
			for _, r := range reports {
				mark := " "
				if r.Match {
					mark = "*"
				}
				fmt.Fprintf(out, " %s %-28s %s\n", mark, r.Candidate, r.Digest)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "read the raw body from a file")
	cmd.Flags().StringVar(&signature, "signature", "", "X-Paynow-Signature header value")
	cmd.Flags().StringVar(&key, "key", "", "integration key (default PAYNOW_INTEGRATION_KEY)")

	return cmd
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
