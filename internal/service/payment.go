package service

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"taxi/internal/domain"
	"taxi/internal/paynow"
	"taxi/internal/repository"
)

// Outcome describes what Advance did with a notification.
type Outcome string

const (
	OutcomeAlreadyPaid     Outcome = "already_paid"
	OutcomePaid            Outcome = "paid"
	OutcomeAmountMismatch  Outcome = "amount_mismatch"
	OutcomeFailed          Outcome = "failed"
	OutcomeIntermediate    Outcome = "intermediate"
	OutcomeTerminalIgnored Outcome = "terminal_ignored"
)

// Keys added to audit entries alongside the gateway fields.
const (
	auditKeyError          = "_error"
	auditKeyExpectedAmount = "_expected_amount"
	auditKeyReportedAmount = "_reported_amount"
)

// AdvanceRequest is one observation of a payment's remote status.
type AdvanceRequest struct {
	PaymentID         string
	ReportedStatus    string
	ReportedAmount    *decimal.Decimal
	ProviderReference string
	Source            domain.PayloadSource
	Payload           map[string]string
}

// AdvanceResult holds the payment as persisted and what happened to it.
type AdvanceResult struct {
	Payment *domain.Payment
	Outcome Outcome
}

// PaymentStateMachine applies gateway observations to payments. Every channel
// (webhook, poll, return, initiation) goes through Advance.
type PaymentStateMachine struct {
	tx       repository.Transactor
	notifier Notifier
	logger   logrus.FieldLogger
	now      func() time.Time
}

// NewPaymentStateMachine creates a new PaymentStateMachine.
func NewPaymentStateMachine(tx repository.Transactor, notifier Notifier, logger logrus.FieldLogger) *PaymentStateMachine {
	return &PaymentStateMachine{
		tx:       tx,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Advance moves a payment toward PAID or FAILED under a row lock. A payment
// leaves PENDING at most once; later observations are recorded but never
// change its status. Notifications for a newly paid payment are sent after
// the transaction commits.
func (m *PaymentStateMachine) Advance(ctx context.Context, req AdvanceRequest) (*AdvanceResult, error) {
	if req.PaymentID == "" {
		return nil, ErrInvalidPaymentID
	}

	var (
		result  AdvanceResult
		booking *domain.Booking
	)

	err := m.tx.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		payments := store.Payments()

		payment, err := payments.GetByIDForUpdate(ctx, req.PaymentID)
		if err != nil {
			return err
		}
		result = AdvanceResult{Payment: payment}

		if payment.Status == domain.PaymentStatusPaid {
			result.Outcome = OutcomeAlreadyPaid
			return nil
		}

		entry := domain.ProviderPayload{
			Source:     req.Source,
			ReceivedAt: m.now(),
			Data:       maps.Clone(req.Payload),
		}
		if entry.Data == nil {
			entry.Data = map[string]string{}
		}

		if payment.Status == domain.PaymentStatusFailed {
			result.Outcome = OutcomeTerminalIgnored
			return appendEntry(ctx, payments, payment, entry)
		}

		if payment.ProviderReference == "" && strings.TrimSpace(req.ProviderReference) != "" {
			ref := strings.TrimSpace(req.ProviderReference)
			if err := payments.SetProviderReference(ctx, payment.ID, ref); err != nil {
				return err
			}
			payment.ProviderReference = ref
		}

		switch paynow.ClassifyStatus(req.ReportedStatus) {
		case paynow.StatusPaid:
			if req.ReportedAmount != nil && !req.ReportedAmount.Equal(payment.Amount) {
				entry.Data[auditKeyError] = ErrAmountMismatch.Error()
				entry.Data[auditKeyExpectedAmount] = payment.Amount.StringFixed(2)
				entry.Data[auditKeyReportedAmount] = req.ReportedAmount.String()
				if err := appendEntry(ctx, payments, payment, entry); err != nil {
					return err
				}
				result.Outcome = OutcomeAmountMismatch
				return setStatus(ctx, payments, payment, domain.PaymentStatusFailed)
			}

			if err := appendEntry(ctx, payments, payment, entry); err != nil {
				return err
			}
			if err := setStatus(ctx, payments, payment, domain.PaymentStatusPaid); err != nil {
				return err
			}
			if err := store.Bookings().UpdateStatus(ctx, payment.BookingID, domain.BookingStatusConfirmed); err != nil {
				return err
			}
			booking, err = store.Bookings().GetByID(ctx, payment.BookingID)
			if err != nil {
				return err
			}
			result.Outcome = OutcomePaid
			return nil

		case paynow.StatusFailed:
			if err := appendEntry(ctx, payments, payment, entry); err != nil {
				return err
			}
			result.Outcome = OutcomeFailed
			return setStatus(ctx, payments, payment, domain.PaymentStatusFailed)

		default:
			result.Outcome = OutcomeIntermediate
			return appendEntry(ctx, payments, payment, entry)
		}
	})
	if err != nil {
		return nil, err
	}

	m.logOutcome(req, &result)

	if result.Outcome == OutcomePaid && booking != nil {
		m.notifyPaid(ctx, booking)
	}

	return &result, nil
}

func (m *PaymentStateMachine) logOutcome(req AdvanceRequest, result *AdvanceResult) {
	log := m.logger.WithFields(logrus.Fields{
		"payment_id": req.PaymentID,
		"source":     req.Source,
		"reported":   req.ReportedStatus,
		"outcome":    result.Outcome,
		"status":     result.Payment.Status,
	})

	switch result.Outcome {
	case OutcomeAmountMismatch:
		log.WithFields(logrus.Fields{
			"expected_amount": result.Payment.Amount.StringFixed(2),
			"reported_amount": req.ReportedAmount.String(),
		}).Error("AmountMismatch: payment marked failed")
	case OutcomeTerminalIgnored:
		log.Warn("notification for failed payment recorded for manual review")
	case OutcomeAlreadyPaid:
		log.Debug("payment already paid, nothing to do")
	default:
		log.Info("payment advanced")
	}
}

func (m *PaymentStateMachine) notifyPaid(ctx context.Context, booking *domain.Booking) {
	if m.notifier == nil {
		return
	}
	notifySafely(m.logger, "payment_confirmation", booking.ID, func() error {
		return m.notifier.SendPaymentConfirmation(ctx, booking)
	})
	notifySafely(m.logger, "owner", booking.ID, func() error {
		return m.notifier.SendOwnerNotification(ctx, booking, NotifyStatusPaid)
	})
}

func appendEntry(ctx context.Context, payments repository.PaymentRepository, payment *domain.Payment, entry domain.ProviderPayload) error {
	if err := payments.AppendPayload(ctx, payment.ID, entry); err != nil {
		return err
	}
	payment.RawPayloads = append(payment.RawPayloads, entry)
	return nil
}

func setStatus(ctx context.Context, payments repository.PaymentRepository, payment *domain.Payment, status domain.PaymentStatus) error {
	if err := payments.UpdateStatus(ctx, payment.ID, status); err != nil {
		return err
	}
	payment.Status = status
	return nil
}
