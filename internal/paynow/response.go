package paynow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// parseFields flattens a gateway body into lower-cased keys. JSON objects are
// tried first, then URL-encoded forms. Nested "response" and "data" objects
// are merged without overriding top-level keys.
func parseFields(body []byte) (map[string]string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrProtocol)
	}

	if trimmed[0] == '{' {
		var obj map[string]any
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, fmt.Errorf("%w: invalid json: %v", ErrProtocol, err)
		}
		fields := make(map[string]string)
		flatten(fields, obj, 0)
		return fields, nil
	}

	text := string(trimmed)
	if strings.Contains(text, "=") && !strings.ContainsAny(text, "<>\n") {
		values, err := url.ParseQuery(text)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid form body: %v", ErrProtocol, err)
		}
		fields := make(map[string]string, len(values))
		for k, v := range values {
			if len(v) > 0 {
				fields[strings.ToLower(k)] = v[0]
			}
		}
		return fields, nil
	}

	return nil, fmt.Errorf("%w: unrecognised body", ErrProtocol)
}

func flatten(dst map[string]string, obj map[string]any, depth int) {
	var nested []map[string]any
	for k, v := range obj {
		key := strings.ToLower(k)
		switch val := v.(type) {
		case map[string]any:
			if depth < 2 && (key == "response" || key == "data") {
				nested = append(nested, val)
			}
		case string:
			setIfAbsent(dst, key, val)
		case bool:
			setIfAbsent(dst, key, fmt.Sprintf("%t", val))
		case float64:
			setIfAbsent(dst, key, decimal.NewFromFloat(val).String())
		}
	}
	for _, n := range nested {
		flatten(dst, n, depth+1)
	}
}

func setIfAbsent(dst map[string]string, key, value string) {
	if _, ok := dst[key]; !ok {
		dst[key] = value
	}
}

func firstField(fields map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(fields[k]); v != "" {
			return v
		}
	}
	return ""
}

func redirectURLOf(fields map[string]string) string {
	return firstField(fields, "browserurl", "redirecturl", "redirect_url")
}

func pollURLOf(fields map[string]string) string {
	return firstField(fields, "pollurl", "poll_url")
}

func providerReferenceOf(fields map[string]string) string {
	return firstField(fields, "paynowreference", "paynow_reference", "transaction_id")
}

// interpretInit maps a parsed initiate response onto the result variant.
func interpretInit(fields map[string]string) InitResult {
	status := strings.ToLower(firstField(fields, "status"))
	redirect := redirectURLOf(fields)
	poll := pollURLOf(fields)
	ref := providerReferenceOf(fields)

	if status == "ok" || (status == "" && (redirect != "" || poll != "")) {
		return InitSuccess{RedirectURL: redirect, PollURL: poll, ProviderReference: ref, Raw: fields}
	}

	reason := firstField(fields, "error", "message")
	if reason == "" {
		reason = "gateway returned status " + status
	}
	if poll != "" || ref != "" {
		return InitSoftFailure{PollURL: poll, ProviderReference: ref, Reason: reason, Raw: fields}
	}
	return InitHardFailure{Kind: FailureRejected, Message: reason}
}

// StatusClass groups the many textual statuses the gateway reports.
type StatusClass int

const (
	StatusIntermediate StatusClass = iota
	StatusPaid
	StatusFailed
)

var failureStatuses = map[string]struct{}{
	"failed":    {},
	"cancelled": {},
	"expired":   {},
}

// ClassifyStatus maps a reported status onto paid, failed or intermediate.
// Only an exact "paid" counts as paid; only the explicit failure words count
// as failed.
func ClassifyStatus(status string) StatusClass {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "paid" {
		return StatusPaid
	}
	if _, ok := failureStatuses[s]; ok {
		return StatusFailed
	}
	return StatusIntermediate
}

var (
	paidKeywords    = []string{"paid", "success", "completed", "payment received"}
	negatedKeywords = []string{"not paid", "unpaid", "unsuccessful", "not successful", "not completed", "incomplete"}
)

// scanPaid is the keyword fallback for bodies with no parsable structure.
// Negated forms are checked first so that "unsuccessful" is never read as
// "success".
func scanPaid(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range negatedKeywords {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	for _, kw := range paidKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// interpretPoll turns a poll body into a best-effort result. It never fails.
func interpretPoll(body []byte) PollResult {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return PollResult{Status: "Unknown"}
	}

	if trimmed[0] == '{' {
		var obj map[string]any
		if err := json.Unmarshal(trimmed, &obj); err == nil {
			fields := make(map[string]string)
			flatten(fields, obj, 0)
			status := firstField(fields, "status", "payment_status", "result", "message")
			if status == "" {
				paid, _ := obj["paid"].(bool)
				status = statusLabel(paid)
			}
			return PollResult{
				Paid:              ClassifyStatus(status) == StatusPaid,
				Status:            status,
				ProviderReference: providerReferenceOf(fields),
				Amount:            amountOf(fields),
				Structured:        true,
				Raw:               fields,
			}
		}
	}

	if fields, err := parseFields(trimmed); err == nil {
		if status := firstField(fields, "status"); status != "" {
			return PollResult{
				Paid:              ClassifyStatus(status) == StatusPaid,
				Status:            status,
				ProviderReference: providerReferenceOf(fields),
				Amount:            amountOf(fields),
				Structured:        true,
				Raw:               fields,
			}
		}
	}

	paid := scanPaid(string(trimmed))
	return PollResult{Paid: paid, Status: statusLabel(paid) + " (scraped)"}
}

func statusLabel(paid bool) string {
	if paid {
		return "Paid"
	}
	return "Pending"
}

func amountOf(fields map[string]string) *decimal.Decimal {
	raw := firstField(fields, "amount")
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &d
}
