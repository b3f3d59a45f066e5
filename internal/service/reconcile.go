package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"taxi/internal/domain"
	"taxi/internal/paynow"
	"taxi/internal/redis"
	"taxi/internal/repository"
)

// webhookReferenceFields are the notification fields that may carry a
// reference, in the order they are tried.
var webhookReferenceFields = []string{"reference", "transaction_id", "paynowreference", "paynow_reference"}

// MessageAlreadyConfirmed is returned when polling a payment that is already paid.
const MessageAlreadyConfirmed = "Already confirmed"

// MessagePollInProgress is returned when another poll of the same payment is running.
const MessagePollInProgress = "Status check already in progress"

// ReconcileConfig holds reconciliation settings.
type ReconcileConfig struct {
	PollLockTTL  time.Duration
	PollOnReturn bool
}

// WebhookResult reports what a verified notification did.
type WebhookResult struct {
	Resolved  bool
	PaymentID string
	Outcome   Outcome
}

// PollStatus is the answer to a browser poll.
type PollStatus struct {
	Paid    bool
	Status  string
	Message string
}

// ReturnRequest identifies the payment a browser came back for.
type ReturnRequest struct {
	Reference string
	SessionID string
}

// ReconcileService drives the three inbound channels (webhook, poll and
// browser return) through the payment state machine.
type ReconcileService struct {
	cfg       ReconcileConfig
	bookings  repository.BookingRepository
	payments  repository.PaymentRepository
	resolver  *ReferenceResolver
	verifier  *paynow.Verifier
	gateway   PaymentGateway
	machine   *PaymentStateMachine
	locks     redis.LockStoreInterface
	sessions  redis.SessionStoreInterface
	summaries *SummaryBuilder
	logger    logrus.FieldLogger
}

// NewReconcileService creates a new ReconcileService.
func NewReconcileService(
	cfg ReconcileConfig,
	bookings repository.BookingRepository,
	payments repository.PaymentRepository,
	resolver *ReferenceResolver,
	verifier *paynow.Verifier,
	gateway PaymentGateway,
	machine *PaymentStateMachine,
	locks redis.LockStoreInterface,
	sessions redis.SessionStoreInterface,
	summaries *SummaryBuilder,
	logger logrus.FieldLogger,
) *ReconcileService {
	return &ReconcileService{
		cfg:       cfg,
		bookings:  bookings,
		payments:  payments,
		resolver:  resolver,
		verifier:  verifier,
		gateway:   gateway,
		machine:   machine,
		locks:     locks,
		sessions:  sessions,
		summaries: summaries,
		logger:    logger,
	}
}

// HandleWebhook verifies and applies a result-URL notification. Unresolved
// references are acknowledged so the gateway stops retrying; an error is
// returned only for a bad signature or when a resolved payment could not be
// updated.
func (s *ReconcileService) HandleWebhook(ctx context.Context, rawBody []byte, header http.Header) (*WebhookResult, error) {
	n := paynow.ParseNotification(rawBody, header)

	verdict := s.verifier.Verify(n)
	if !verdict.Accepted {
		s.logger.WithFields(logrus.Fields{
			"strategy": verdict.Strategy,
			"reason":   verdict.Reason,
		}).Warn("paynow notification rejected")
		return nil, ErrInvalidSignature
	}

	candidates := make([]string, 0, len(webhookReferenceFields))
	for _, field := range webhookReferenceFields {
		candidates = append(candidates, n.Value(field))
	}

	log := s.logger.WithFields(logrus.Fields{
		"strategy":   verdict.Strategy,
		"candidate":  verdict.Candidate,
		"references": strings.Join(normalizeCandidates(candidates), ","),
	})

	payment, err := s.resolver.Resolve(ctx, candidates)
	if err != nil {
		log.WithError(err).Error("reference resolution failed")
		return nil, err
	}
	if payment == nil {
		log.WithError(ErrUnresolvedReference).Warn("paynow notification acknowledged without a matching payment")
		return &WebhookResult{Resolved: false}, nil
	}

	providerRef := n.Value("paynowreference")
	if providerRef == "" {
		providerRef = n.Value("paynow_reference")
	}

	result, err := s.machine.Advance(ctx, AdvanceRequest{
		PaymentID:         payment.ID,
		ReportedStatus:    n.Value("status"),
		ReportedAmount:    s.parseAmount(n.Value("amount"), payment.ID),
		ProviderReference: providerRef,
		Source:            domain.PayloadSourceWebhook,
		Payload:           flattenForm(n),
	})
	if err != nil {
		log.WithError(err).WithField("payment_id", payment.ID).Error("failed to apply paynow notification")
		return nil, err
	}

	return &WebhookResult{Resolved: true, PaymentID: payment.ID, Outcome: result.Outcome}, nil
}

// Poll checks a payment's status with the gateway on behalf of a browser.
func (s *ReconcileService) Poll(ctx context.Context, paymentID string) (*PollStatus, error) {
	if _, err := uuid.Parse(paymentID); err != nil {
		return nil, repository.ErrNotFound
	}

	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if payment.IsPaid() {
		return &PollStatus{Paid: true, Status: string(domain.PaymentStatusPaid), Message: MessageAlreadyConfirmed}, nil
	}

	pollURL := s.pollURLFor(payment)
	if pollURL == "" {
		return nil, ErrNoPollURL
	}

	if s.locks != nil {
		token, acquired, err := s.locks.AcquirePollLock(ctx, payment.ID, s.cfg.PollLockTTL)
		switch {
		case err != nil:
			s.logger.WithError(err).WithField("payment_id", payment.ID).Warn("poll lock unavailable, polling without it")
		case !acquired:
			return &PollStatus{Paid: false, Status: string(payment.Status), Message: MessagePollInProgress}, nil
		default:
			defer func() {
				if err := s.locks.ReleasePollLock(context.WithoutCancel(ctx), payment.ID, token); err != nil {
					s.logger.WithError(err).WithField("payment_id", payment.ID).Warn("failed to release poll lock")
				}
			}()
		}
	}

	return s.pollAndAdvance(ctx, payment, pollURL, domain.PayloadSourcePoll)
}

// pollAndAdvance polls the gateway and feeds conclusive answers to the state
// machine. A structured answer is passed on with the gateway's own status
// when it is paid or an explicit failure. A scraped page can only confirm.
func (s *ReconcileService) pollAndAdvance(ctx context.Context, payment *domain.Payment, pollURL string, source domain.PayloadSource) (*PollStatus, error) {
	res, err := s.gateway.PollStatus(ctx, pollURL)
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Error("paynow poll failed")
		return nil, fmt.Errorf("%w: %v", ErrPollFailed, err)
	}

	status := &PollStatus{Paid: res.Paid, Status: res.Status}

	var reported string
	switch {
	case res.Structured:
		if paynow.ClassifyStatus(res.Status) == paynow.StatusIntermediate {
			return status, nil
		}
		reported = res.Status
	case res.Paid:
		reported = "paid"
	default:
		return status, nil
	}

	result, err := s.machine.Advance(ctx, AdvanceRequest{
		PaymentID:         payment.ID,
		ReportedStatus:    reported,
		ReportedAmount:    res.Amount,
		ProviderReference: res.ProviderReference,
		Source:            source,
		Payload:           withField(res.Raw, "status", res.Status),
	})
	if err != nil {
		return nil, err
	}

	*payment = *result.Payment
	status.Paid = result.Payment.IsPaid()
	if result.Outcome == OutcomeAmountMismatch {
		status.Status = string(domain.PaymentStatusFailed)
		status.Message = ErrAmountMismatch.Error()
	}
	return status, nil
}

// Return builds the summary for a browser coming back from the gateway. It
// never fails for an unknown payment: the generic summary is returned instead.
func (s *ReconcileService) Return(ctx context.Context, req ReturnRequest) (*PaymentSummary, error) {
	var payment *domain.Payment

	if ref := strings.TrimSpace(req.Reference); ref != "" {
		p, err := s.resolver.Resolve(ctx, []string{ref})
		if err != nil {
			return nil, err
		}
		if p == nil {
			s.logger.WithField("reference", ref).WithError(ErrUnresolvedReference).Warn("paynow return for unknown reference")
		}
		payment = p
	}

	if payment == nil {
		p, err := s.paymentFromSession(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		payment = p
	}

	if payment == nil {
		return s.summaries.NotFound(), nil
	}

	if s.cfg.PollOnReturn && payment.Status == domain.PaymentStatusPending {
		if pollURL := s.pollURLFor(payment); pollURL != "" {
			if _, err := s.pollAndAdvance(ctx, payment, pollURL, domain.PayloadSourceReturn); err != nil {
				s.logger.WithError(err).WithField("payment_id", payment.ID).Warn("best-effort poll on return failed")
			}
		}
	}

	booking, err := s.bookings.GetByID(ctx, payment.BookingID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	return s.summaries.Build(booking, payment), nil
}

func (s *ReconcileService) paymentFromSession(ctx context.Context, sessionID string) (*domain.Payment, error) {
	if s.sessions == nil || sessionID == "" {
		return nil, nil
	}

	data, err := s.sessions.Take(ctx, sessionID)
	if err != nil {
		s.logger.WithError(err).Warn("session lookup failed")
		return nil, nil
	}
	if data == nil || data.LastPaymentID == "" {
		return nil, nil
	}
	if _, err := uuid.Parse(data.LastPaymentID); err != nil {
		return nil, nil
	}

	payment, err := s.payments.GetByID(ctx, data.LastPaymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	s.logger.WithField("payment_id", payment.ID).Info("return summary from session payment")
	return payment, nil
}

func (s *ReconcileService) pollURLFor(payment *domain.Payment) string {
	if payment.PollURL != "" {
		return payment.PollURL
	}
	if payment.ProviderReference != "" {
		return s.gateway.CheckPaymentURL(payment.ProviderReference)
	}
	return ""
}

// parseAmount returns nil for a missing or unparseable amount.
func (s *ReconcileService) parseAmount(raw, paymentID string) *decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"payment_id": paymentID,
			"amount":     raw,
		}).Warn("unparseable amount in notification, treating as absent")
		return nil
	}
	return &amount
}

func flattenForm(n paynow.Notification) map[string]string {
	data := make(map[string]string, len(n.Form))
	for k, v := range n.Form {
		if len(v) > 0 {
			data[k] = v[0]
		}
	}
	return data
}
