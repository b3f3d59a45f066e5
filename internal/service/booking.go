package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"taxi/internal/distance"
	"taxi/internal/domain"
	"taxi/internal/paynow"
	"taxi/internal/pricing"
	"taxi/internal/redis"
	"taxi/internal/repository"
)

// DistanceLookup computes route distances.
type DistanceLookup interface {
	DistanceKm(ctx context.Context, origin, destination distance.Point) (decimal.Decimal, error)
}

// PaymentGateway is the part of the Paynow client the services use.
type PaymentGateway interface {
	CreateTransaction(ctx context.Context, req paynow.InitRequest) paynow.InitResult
	PollStatus(ctx context.Context, pollURL string) (paynow.PollResult, error)
	CheckPaymentURL(providerReference string) string
}

// Messages returned with a new booking.
const (
	MessagePayOnArrival   = "Booking confirmed. Please pay the driver on arrival."
	MessageRedirecting    = "Redirecting to Paynow to complete payment."
	MessagePaymentPending = "Your booking is saved and payment is pending confirmation. We will email you once payment is confirmed."
)

// BookingService handles quotes and bookings.
type BookingService struct {
	tx         repository.Transactor
	bookings   repository.BookingRepository
	payments   repository.PaymentRepository
	calculator *pricing.Calculator
	distance   DistanceLookup
	gateway    PaymentGateway
	machine    *PaymentStateMachine
	notifier   Notifier
	sessions   redis.SessionStoreInterface
	logger     logrus.FieldLogger
}

// NewBookingService creates a new BookingService.
func NewBookingService(
	tx repository.Transactor,
	bookings repository.BookingRepository,
	payments repository.PaymentRepository,
	calculator *pricing.Calculator,
	distanceLookup DistanceLookup,
	gateway PaymentGateway,
	machine *PaymentStateMachine,
	notifier Notifier,
	sessions redis.SessionStoreInterface,
	logger logrus.FieldLogger,
) *BookingService {
	return &BookingService{
		tx:         tx,
		bookings:   bookings,
		payments:   payments,
		calculator: calculator,
		distance:   distanceLookup,
		gateway:    gateway,
		machine:    machine,
		notifier:   notifier,
		sessions:   sessions,
		logger:     logger,
	}
}

// TripRequest describes a trip to be priced.
type TripRequest struct {
	Pickup         domain.Location
	Dropoff        domain.Location
	DistanceKm     *decimal.Decimal // looked up from coordinates when nil
	NumAdults      int
	NumKidsSeated  int
	NumKidsCarried int
	LuggageCount   int
}

// CreateBookingRequest contains the parameters for creating a booking.
type CreateBookingRequest struct {
	TripRequest
	Phone         string
	Email         string
	PaymentOption domain.PaymentOption
	SessionID     string
}

// CreateBookingResult is the booking as created, with its first payment.
type CreateBookingResult struct {
	Booking     *domain.Booking
	Payment     *domain.Payment
	RedirectURL string
	PollURL     string
	Message     string
}

// BookingDetails is a booking with every payment attempt made for it.
type BookingDetails struct {
	Booking  *domain.Booking
	Payments []*domain.Payment
}

// Quote prices a trip without persisting anything.
func (s *BookingService) Quote(ctx context.Context, req TripRequest) (domain.Breakdown, error) {
	km, err := s.resolveDistance(ctx, req)
	if err != nil {
		return domain.Breakdown{}, err
	}
	return s.calculator.Calculate(pricingInput(req, km))
}

// CreateBooking prices and stores a booking. Pay-on-arrival bookings are
// confirmed immediately; Paynow bookings start a gateway transaction whose
// reference is the new payment's id.
func (s *BookingService) CreateBooking(ctx context.Context, req CreateBookingRequest) (*CreateBookingResult, error) {
	if err := validateBooking(req); err != nil {
		return nil, err
	}

	km, err := s.resolveDistance(ctx, req.TripRequest)
	if err != nil {
		return nil, err
	}

	breakdown, err := s.calculator.Calculate(pricingInput(req.TripRequest, km))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	booking := &domain.Booking{
		ID:             uuid.New().String(),
		Pickup:         req.Pickup,
		Dropoff:        req.Dropoff,
		DistanceKm:     km,
		NumAdults:      req.NumAdults,
		NumKidsSeated:  req.NumKidsSeated,
		NumKidsCarried: req.NumKidsCarried,
		LuggageCount:   req.LuggageCount,
		Phone:          strings.TrimSpace(req.Phone),
		Email:          strings.TrimSpace(req.Email),
		PaymentOption:  req.PaymentOption,
		Status:         domain.BookingStatusPending,
		PriceBreakdown: breakdown,
		TotalAmount:    breakdown.Total,
		CreatedAt:      now,
	}
	payment := &domain.Payment{
		ID:        uuid.New().String(),
		BookingID: booking.ID,
		Method:    domain.PaymentMethodPaynow,
		Amount:    breakdown.Total,
		Status:    domain.PaymentStatusPending,
		CreatedAt: now,
	}
	if req.PaymentOption == domain.PaymentOptionOnArrival {
		booking.Status = domain.BookingStatusConfirmed
		payment.Method = domain.PaymentMethodOnArrival
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, store repository.Store) error {
		if err := store.Bookings().Create(ctx, booking); err != nil {
			return err
		}
		return store.Payments().Create(ctx, payment)
	})
	if err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"booking_id":     booking.ID,
		"payment_id":     payment.ID,
		"payment_option": booking.PaymentOption,
		"total":          booking.TotalAmount.StringFixed(2),
	})
	log.Info("booking created")

	if req.PaymentOption == domain.PaymentOptionOnArrival {
		s.notifyBooking(ctx, booking, NotifyStatusPayOnArrival)
		return &CreateBookingResult{Booking: booking, Payment: payment, Message: MessagePayOnArrival}, nil
	}

	s.rememberSession(ctx, req.SessionID, booking, payment)

	return s.initiatePayment(ctx, booking, payment, log)
}

func (s *BookingService) initiatePayment(ctx context.Context, booking *domain.Booking, payment *domain.Payment, log logrus.FieldLogger) (*CreateBookingResult, error) {
	result := &CreateBookingResult{Booking: booking, Payment: payment}

	initResult := s.gateway.CreateTransaction(ctx, paynow.InitRequest{
		Amount:    payment.Amount,
		Reference: payment.ID,
		Email:     booking.Email,
		Phone:     booking.Phone,
		Info:      "Taxi booking " + shortID(booking.ID),
	})

	switch r := initResult.(type) {
	case paynow.InitSuccess:
		s.recordInit(ctx, payment, r.RedirectURL, r.PollURL, r.ProviderReference, r.Raw, log)
		result.RedirectURL = payment.RedirectURL
		result.PollURL = payment.PollURL
		result.Message = MessageRedirecting
		if result.RedirectURL == "" {
			result.Message = MessagePaymentPending
		}
		log.WithField("provider_reference", payment.ProviderReference).Info("payment initiated")
		return result, nil

	case paynow.InitSoftFailure:
		raw := withField(r.Raw, auditKeyError, r.Reason)
		s.recordInit(ctx, payment, "", r.PollURL, r.ProviderReference, raw, log)
		result.PollURL = payment.PollURL
		result.Message = MessagePaymentPending
		log.WithField("reason", r.Reason).Warn("payment initiation not confirmed, left pending")
		return result, nil

	case paynow.InitHardFailure:
		data := map[string]string{
			auditKeyError: string(r.Kind),
			"message":     r.Message,
		}
		if r.StatusCode != 0 {
			data["status_code"] = fmt.Sprint(r.StatusCode)
		}

		if r.Ambiguous() {
			if err := s.payments.AppendPayload(ctx, payment.ID, initPayload(data)); err != nil {
				log.WithError(err).Error("failed to record initiation failure")
			}
			result.Message = MessagePaymentPending
			log.WithFields(logrus.Fields{"kind": r.Kind, "status_code": r.StatusCode}).
				Warn("payment initiation outcome unknown, left pending")
			return result, nil
		}

		advanced, err := s.machine.Advance(ctx, AdvanceRequest{
			PaymentID:      payment.ID,
			ReportedStatus: "failed",
			Source:         domain.PayloadSourceInit,
			Payload:        data,
		})
		if err != nil {
			log.WithError(err).Error("failed to mark payment failed after initiation failure")
		} else {
			result.Payment = advanced.Payment
		}
		log.WithFields(logrus.Fields{"kind": r.Kind, "message": r.Message}).Error("payment initiation failed")
		return result, fmt.Errorf("%w: %s", ErrPaymentInitiationFailed, r.Kind)
	}

	return nil, fmt.Errorf("%w: unexpected gateway result %T", ErrPaymentInitiationFailed, initResult)
}

// recordInit stores the handles and audit entry of an initiation response.
// Failures are logged: the payment stays PENDING and later channels can
// still settle it.
func (s *BookingService) recordInit(ctx context.Context, payment *domain.Payment, redirectURL, pollURL, providerRef string, raw map[string]string, log logrus.FieldLogger) {
	if pollURL == "" && providerRef != "" {
		pollURL = s.gateway.CheckPaymentURL(providerRef)
	}

	if redirectURL != "" || pollURL != "" {
		if err := s.payments.SetHandles(ctx, payment.ID, redirectURL, pollURL); err != nil {
			log.WithError(err).Error("failed to store payment handles")
		} else {
			payment.RedirectURL = redirectURL
			payment.PollURL = pollURL
		}
	}

	if providerRef != "" {
		if err := s.payments.SetProviderReference(ctx, payment.ID, providerRef); err != nil {
			log.WithError(err).Error("failed to store provider reference")
		} else {
			payment.ProviderReference = providerRef
		}
	}

	entry := initPayload(raw)
	if err := s.payments.AppendPayload(ctx, payment.ID, entry); err != nil {
		log.WithError(err).Error("failed to record initiation response")
	} else {
		payment.RawPayloads = append(payment.RawPayloads, entry)
	}
}

// GetBooking returns a booking and its payments.
func (s *BookingService) GetBooking(ctx context.Context, id string) (*BookingDetails, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}

	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	payments, err := s.payments.ListByBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	return &BookingDetails{Booking: booking, Payments: payments}, nil
}

func (s *BookingService) resolveDistance(ctx context.Context, req TripRequest) (decimal.Decimal, error) {
	if req.DistanceKm != nil {
		return *req.DistanceKm, nil
	}

	if !req.Pickup.HasCoordinates() || !req.Dropoff.HasCoordinates() {
		return decimal.Zero, fmt.Errorf("%w: distance_km or pickup and dropoff coordinates are required", ErrDistanceUnavailable)
	}
	if s.distance == nil {
		return decimal.Zero, fmt.Errorf("%w: distance lookup not configured", ErrDistanceUnavailable)
	}

	km, err := s.distance.DistanceKm(ctx,
		distance.Point{Lat: *req.Pickup.Lat, Lng: *req.Pickup.Lng},
		distance.Point{Lat: *req.Dropoff.Lat, Lng: *req.Dropoff.Lng},
	)
	if err != nil {
		s.logger.WithError(err).Warn("distance lookup failed")
		return decimal.Zero, fmt.Errorf("%w: %v", ErrDistanceUnavailable, err)
	}
	return km, nil
}

func (s *BookingService) notifyBooking(ctx context.Context, booking *domain.Booking, paymentStatus string) {
	if s.notifier == nil {
		return
	}
	notifySafely(s.logger, "owner", booking.ID, func() error {
		return s.notifier.SendOwnerNotification(ctx, booking, paymentStatus)
	})
	notifySafely(s.logger, "customer", booking.ID, func() error {
		return s.notifier.SendCustomerNotification(ctx, booking, paymentStatus)
	})
}

func (s *BookingService) rememberSession(ctx context.Context, sessionID string, booking *domain.Booking, payment *domain.Payment) {
	if s.sessions == nil || sessionID == "" {
		return
	}
	err := s.sessions.Remember(ctx, sessionID, redis.SessionData{
		LastPaymentID: payment.ID,
		LastBookingID: booking.ID,
	})
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Warn("failed to remember session payment")
	}
}

func validateBooking(req CreateBookingRequest) error {
	if !req.PaymentOption.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPaymentOption, req.PaymentOption)
	}
	if strings.TrimSpace(req.Pickup.Address) == "" {
		return fmt.Errorf("%w: pickup address is required", ErrInvalidBooking)
	}
	if strings.TrimSpace(req.Dropoff.Address) == "" {
		return fmt.Errorf("%w: dropoff address is required", ErrInvalidBooking)
	}
	if strings.TrimSpace(req.Phone) == "" {
		return fmt.Errorf("%w: phone is required", ErrInvalidBooking)
	}
	if _, err := mail.ParseAddress(strings.TrimSpace(req.Email)); err != nil {
		return fmt.Errorf("%w: a valid email is required", ErrInvalidBooking)
	}
	return nil
}

func pricingInput(req TripRequest, km decimal.Decimal) pricing.Input {
	return pricing.Input{
		DistanceKm:     &km,
		NumAdults:      req.NumAdults,
		NumKidsSeated:  req.NumKidsSeated,
		NumKidsCarried: req.NumKidsCarried,
		LuggageCount:   req.LuggageCount,
	}
}

func initPayload(data map[string]string) domain.ProviderPayload {
	if data == nil {
		data = map[string]string{}
	}
	return domain.ProviderPayload{
		Source:     domain.PayloadSourceInit,
		ReceivedAt: time.Now().UTC(),
		Data:       data,
	}
}

func withField(m map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	if value != "" {
		out[key] = value
	}
	return out
}
