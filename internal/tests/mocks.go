package tests

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"taxi/internal/distance"
	"taxi/internal/domain"
	"taxi/internal/paynow"
	"taxi/internal/redis"
	"taxi/internal/repository"
	"taxi/internal/service"
)

// ──────────────────────────────────────────────
// MOCK BOOKING REPOSITORY
// ──────────────────────────────────────────────

// MockBookingRepository is a mock implementation of BookingRepository.
type MockBookingRepository struct {
	mu       sync.RWMutex
	bookings map[string]*domain.Booking

	// Counters for verification
	CreateCallCount       int32
	UpdateStatusCallCount int32

	// Error injection
	CreateError       error
	UpdateStatusError error
}

// NewMockBookingRepository creates a new mock booking repository.
func NewMockBookingRepository() *MockBookingRepository {
	return &MockBookingRepository{
		bookings: make(map[string]*domain.Booking),
	}
}

// AddBooking adds a booking to the mock repository.
func (m *MockBookingRepository) AddBooking(booking *domain.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := *booking
	m.bookings[booking.ID] = &b
}

func (m *MockBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := *booking
	m.bookings[booking.ID] = &b
	return nil
}

func (m *MockBookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *b
	return &out, nil
}

func (m *MockBookingRepository) UpdateStatus(ctx context.Context, id string, status domain.BookingStatus) error {
	atomic.AddInt32(&m.UpdateStatusCallCount, 1)
	if m.UpdateStatusError != nil {
		return m.UpdateStatusError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return repository.ErrNotFound
	}
	b.Status = status
	b.UpdatedAt = time.Now()
	return nil
}

// Count returns the number of stored bookings (for test assertions).
func (m *MockBookingRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bookings)
}

func (m *MockBookingRepository) snapshot() map[string]*domain.Booking {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*domain.Booking, len(m.bookings))
	for id, b := range m.bookings {
		c := *b
		out[id] = &c
	}
	return out
}

func (m *MockBookingRepository) restore(s map[string]*domain.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings = s
}

// ──────────────────────────────────────────────
// MOCK PAYMENT REPOSITORY
// ──────────────────────────────────────────────

// MockPaymentRepository is a mock implementation of PaymentRepository.
// Reads return copies so callers never alias stored state.
type MockPaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]*domain.Payment

	// Counters for verification
	CreateCallCount         int32
	GetForUpdateCallCount   int32
	UpdateStatusCallCount   int32
	AppendPayloadCallCount  int32
	SearchPayloadsCallCount int32

	// Error injection
	CreateError        error
	GetError           error
	UpdateStatusError  error
	AppendPayloadError error
	SearchError        error
}

// NewMockPaymentRepository creates a new mock payment repository.
func NewMockPaymentRepository() *MockPaymentRepository {
	return &MockPaymentRepository{
		payments: make(map[string]*domain.Payment),
	}
}

// AddPayment adds a payment to the mock repository.
func (m *MockPaymentRepository) AddPayment(payment *domain.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[payment.ID] = clonePayment(payment)
}

// Get returns a copy of a stored payment, or nil (for test assertions).
func (m *MockPaymentRepository) Get(id string) *domain.Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil
	}
	return clonePayment(p)
}

func (m *MockPaymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	atomic.AddInt32(&m.CreateCallCount, 1)
	if m.CreateError != nil {
		return m.CreateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[payment.ID] = clonePayment(payment)
	return nil
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clonePayment(p), nil
}

func (m *MockPaymentRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Payment, error) {
	atomic.AddInt32(&m.GetForUpdateCallCount, 1)
	return m.GetByID(ctx, id)
}

func (m *MockPaymentRepository) ListByProviderReference(ctx context.Context, ref string) ([]*domain.Payment, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	return m.filter(func(p *domain.Payment) bool { return p.ProviderReference == ref }), nil
}

func (m *MockPaymentRepository) SearchPayloads(ctx context.Context, fragment string, limit int) ([]*domain.Payment, error) {
	atomic.AddInt32(&m.SearchPayloadsCallCount, 1)
	if m.SearchError != nil {
		return nil, m.SearchError
	}
	matches := m.filter(func(p *domain.Payment) bool { return p.MentionsReference(fragment) })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (m *MockPaymentRepository) ListByBooking(ctx context.Context, bookingID string) ([]*domain.Payment, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	return m.filter(func(p *domain.Payment) bool { return p.BookingID == bookingID }), nil
}

func (m *MockPaymentRepository) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus) error {
	atomic.AddInt32(&m.UpdateStatusCallCount, 1)
	if m.UpdateStatusError != nil {
		return m.UpdateStatusError
	}
	return m.update(id, func(p *domain.Payment) { p.Status = status })
}

func (m *MockPaymentRepository) SetProviderReference(ctx context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[id]; ok && p.ProviderReference == "" {
		p.ProviderReference = ref
	}
	return nil
}

func (m *MockPaymentRepository) SetHandles(ctx context.Context, id, redirectURL, pollURL string) error {
	return m.update(id, func(p *domain.Payment) {
		p.RedirectURL = redirectURL
		p.PollURL = pollURL
	})
}

func (m *MockPaymentRepository) AppendPayload(ctx context.Context, id string, payload domain.ProviderPayload) error {
	atomic.AddInt32(&m.AppendPayloadCallCount, 1)
	if m.AppendPayloadError != nil {
		return m.AppendPayloadError
	}
	payload.Data = maps.Clone(payload.Data)
	return m.update(id, func(p *domain.Payment) { p.RawPayloads = append(p.RawPayloads, payload) })
}

func (m *MockPaymentRepository) update(id string, fn func(p *domain.Payment)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(p)
	p.UpdatedAt = time.Now()
	return nil
}

// filter returns copies of matching payments, newest first.
func (m *MockPaymentRepository) filter(match func(p *domain.Payment) bool) []*domain.Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Payment
	for _, p := range m.payments {
		if match(p) {
			out = append(out, clonePayment(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *MockPaymentRepository) snapshot() map[string]*domain.Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*domain.Payment, len(m.payments))
	for id, p := range m.payments {
		out[id] = clonePayment(p)
	}
	return out
}

func (m *MockPaymentRepository) restore(s map[string]*domain.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = s
}

func clonePayment(p *domain.Payment) *domain.Payment {
	c := *p
	c.RawPayloads = make([]domain.ProviderPayload, len(p.RawPayloads))
	for i, entry := range p.RawPayloads {
		entry.Data = maps.Clone(entry.Data)
		c.RawPayloads[i] = entry
	}
	return &c
}

// ──────────────────────────────────────────────
// MOCK TRANSACTOR
// ──────────────────────────────────────────────

// MockTransactor runs transactions one at a time against the mock
// repositories. A failed transaction restores both repositories to the state
// they had when it began.
type MockTransactor struct {
	mu       sync.Mutex
	bookings *MockBookingRepository
	payments *MockPaymentRepository

	// Counters
	TxCallCount       int32
	RollbackCallCount int32

	// Error injection
	BeginError error
}

// NewMockTransactor creates a new mock transactor over the given repositories.
func NewMockTransactor(bookings *MockBookingRepository, payments *MockPaymentRepository) *MockTransactor {
	return &MockTransactor{bookings: bookings, payments: payments}
}

func (m *MockTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, store repository.Store) error) error {
	atomic.AddInt32(&m.TxCallCount, 1)
	if m.BeginError != nil {
		return m.BeginError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bookings := m.bookings.snapshot()
	payments := m.payments.snapshot()

	if err := fn(ctx, mockStore{m.bookings, m.payments}); err != nil {
		atomic.AddInt32(&m.RollbackCallCount, 1)
		m.bookings.restore(bookings)
		m.payments.restore(payments)
		return err
	}
	return nil
}

type mockStore struct {
	bookings *MockBookingRepository
	payments *MockPaymentRepository
}

func (s mockStore) Bookings() repository.BookingRepository { return s.bookings }
func (s mockStore) Payments() repository.PaymentRepository { return s.payments }

// ──────────────────────────────────────────────
// MOCK PAYNOW GATEWAY
// ──────────────────────────────────────────────

// MockGateway is a mock implementation of service.PaymentGateway.
type MockGateway struct {
	mu sync.Mutex

	// Control behavior
	InitResult paynow.InitResult
	PollResult paynow.PollResult
	PollError  error
	OnPoll     func()

	// Recorded calls
	LastInitRequest paynow.InitRequest
	LastPollURL     string

	// Counters
	CreateCallCount int32
	PollCallCount   int32
}

// NewMockGateway creates a mock gateway whose initiation succeeds.
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

func (m *MockGateway) CreateTransaction(ctx context.Context, req paynow.InitRequest) paynow.InitResult {
	atomic.AddInt32(&m.CreateCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastInitRequest = req
	if m.InitResult != nil {
		return m.InitResult
	}
	return paynow.InitSuccess{
		RedirectURL:       "https://www.paynow.co.zw/payment/confirmtransaction/" + req.Reference,
		PollURL:           "https://www.paynow.co.zw/interface/checkpayment/?guid=" + req.Reference,
		ProviderReference: "PN-" + req.Reference[:8],
		Raw:               map[string]string{"status": "Ok"},
	}
}

func (m *MockGateway) PollStatus(ctx context.Context, pollURL string) (paynow.PollResult, error) {
	atomic.AddInt32(&m.PollCallCount, 1)
	if m.OnPoll != nil {
		m.OnPoll()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastPollURL = pollURL
	if m.PollError != nil {
		return paynow.PollResult{}, m.PollError
	}
	return m.PollResult, nil
}

func (m *MockGateway) CheckPaymentURL(providerReference string) string {
	return "https://www.paynow.co.zw/interface/checkpayment/?reference=" + providerReference
}

// SetPollResult configures the next poll answers.
func (m *MockGateway) SetPollResult(res paynow.PollResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PollResult = res
	m.PollError = err
}

// ──────────────────────────────────────────────
// MOCK DISTANCE LOOKUP
// ──────────────────────────────────────────────

// MockDistance is a mock implementation of service.DistanceLookup.
type MockDistance struct {
	Km    decimal.Decimal
	Error error

	CallCount int32
}

func (m *MockDistance) DistanceKm(ctx context.Context, origin, destination distance.Point) (decimal.Decimal, error) {
	atomic.AddInt32(&m.CallCount, 1)
	if m.Error != nil {
		return decimal.Zero, m.Error
	}
	return m.Km, nil
}

// ──────────────────────────────────────────────
// MOCK NOTIFIER
// ──────────────────────────────────────────────

// SentNotification records one notifier call.
type SentNotification struct {
	Kind          service.NotificationType
	BookingID     string
	PaymentStatus string
}

// MockNotifier is a mock implementation of service.Notifier.
type MockNotifier struct {
	mu   sync.Mutex
	sent []SentNotification

	// Error injection
	SendError error
}

// NewMockNotifier creates a new mock notifier.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) SendOwnerNotification(ctx context.Context, booking *domain.Booking, paymentStatus string) error {
	return m.record(service.NotificationOwner, booking.ID, paymentStatus)
}

func (m *MockNotifier) SendCustomerNotification(ctx context.Context, booking *domain.Booking, paymentStatus string) error {
	return m.record(service.NotificationCustomer, booking.ID, paymentStatus)
}

func (m *MockNotifier) SendPaymentConfirmation(ctx context.Context, booking *domain.Booking) error {
	return m.record(service.NotificationPaymentConfirmation, booking.ID, service.NotifyStatusPaid)
}

func (m *MockNotifier) record(kind service.NotificationType, bookingID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentNotification{Kind: kind, BookingID: bookingID, PaymentStatus: status})
	return m.SendError
}

// Sent returns every recorded call.
func (m *MockNotifier) Sent() []SentNotification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentNotification(nil), m.sent...)
}

// Count returns how many notifications of a kind were sent.
func (m *MockNotifier) Count(kind service.NotificationType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

// ──────────────────────────────────────────────
// MOCK DISPATCHER
// ──────────────────────────────────────────────

// MockDispatcher records formatted notifications.
type MockDispatcher struct {
	mu   sync.Mutex
	sent []service.Notification

	DispatchError error
}

func (m *MockDispatcher) Dispatch(ctx context.Context, n service.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DispatchError != nil {
		return m.DispatchError
	}
	m.sent = append(m.sent, n)
	return nil
}

// Sent returns every dispatched notification.
func (m *MockDispatcher) Sent() []service.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]service.Notification(nil), m.sent...)
}

// ──────────────────────────────────────────────
// MOCK LOCK STORE
// ──────────────────────────────────────────────

// MockLockStore is a mock implementation of LockStore.
type MockLockStore struct {
	mu     sync.Mutex
	locks  map[string]mockLock
	tokens int

	// Counters
	AcquireCallCount int32
	ReleaseCallCount int32

	// Error injection
	AcquireError error

	// Force lock failure
	ForceAcquireFailure bool
}

type mockLock struct {
	token  string
	expiry time.Time
}

// NewMockLockStore creates a new mock lock store.
func NewMockLockStore() *MockLockStore {
	return &MockLockStore{
		locks: make(map[string]mockLock),
	}
}

func (m *MockLockStore) AcquirePollLock(ctx context.Context, paymentID string, ttl time.Duration) (string, bool, error) {
	atomic.AddInt32(&m.AcquireCallCount, 1)
	if m.AcquireError != nil {
		return "", false, m.AcquireError
	}
	if m.ForceAcquireFailure {
		return "", false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := "lock:poll:" + paymentID
	if held, exists := m.locks[key]; exists && time.Now().Before(held.expiry) {
		return "", false, nil
	}
	m.tokens++
	token := fmt.Sprintf("token-%d", m.tokens)
	m.locks[key] = mockLock{token: token, expiry: time.Now().Add(ttl)}
	return token, true, nil
}

func (m *MockLockStore) ReleasePollLock(ctx context.Context, paymentID, token string) error {
	atomic.AddInt32(&m.ReleaseCallCount, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	key := "lock:poll:" + paymentID
	if held, exists := m.locks[key]; exists && held.token == token {
		delete(m.locks, key)
	}
	return nil
}

// Expire drops a payment's poll lock as if its TTL had run out.
func (m *MockLockStore) Expire(paymentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, "lock:poll:"+paymentID)
}

// IsLocked checks if a payment's poll lock is held (for test assertions).
func (m *MockLockStore) IsLocked(paymentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	held, exists := m.locks["lock:poll:"+paymentID]
	return exists && time.Now().Before(held.expiry)
}

// ──────────────────────────────────────────────
// MOCK SESSION STORE
// ──────────────────────────────────────────────

// MockSessionStore is a mock implementation of SessionStore.
type MockSessionStore struct {
	mu       sync.Mutex
	sessions map[string]redis.SessionData

	// Error injection
	RememberError error
	TakeError     error
}

// NewMockSessionStore creates a new mock session store.
func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{
		sessions: make(map[string]redis.SessionData),
	}
}

func (m *MockSessionStore) Remember(ctx context.Context, sessionID string, data redis.SessionData) error {
	if m.RememberError != nil {
		return m.RememberError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = data
	return nil
}

func (m *MockSessionStore) Take(ctx context.Context, sessionID string) (*redis.SessionData, error) {
	if m.TakeError != nil {
		return nil, m.TakeError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	delete(m.sessions, sessionID)
	return &data, nil
}

// Peek returns a session without consuming it (for test assertions).
func (m *MockSessionStore) Peek(sessionID string) (redis.SessionData, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sessions[sessionID]
	return data, ok
}

// Ensure mocks implement the interfaces the services consume.
var (
	_ repository.BookingRepository = (*MockBookingRepository)(nil)
	_ repository.PaymentRepository = (*MockPaymentRepository)(nil)
	_ repository.Transactor        = (*MockTransactor)(nil)
	_ service.PaymentGateway       = (*MockGateway)(nil)
	_ service.DistanceLookup       = (*MockDistance)(nil)
	_ service.Notifier             = (*MockNotifier)(nil)
	_ service.Dispatcher           = (*MockDispatcher)(nil)
	_ redis.LockStoreInterface     = (*MockLockStore)(nil)
	_ redis.SessionStoreInterface  = (*MockSessionStore)(nil)
)

// ──────────────────────────────────────────────
// HELPER ERRORS
// ──────────────────────────────────────────────

var (
	ErrMockDBConstraint = errors.New("mock: unique constraint violation")
	ErrMockTimeout      = errors.New("mock: operation timeout")
)
