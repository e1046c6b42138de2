package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/example/rider-client/internal/logging"
	"github.com/example/rider-client/internal/models"
	"github.com/example/rider-client/internal/storage"
)

const (
	keyMethod  = "payment_method"
	keyBalance = "wallet_balance"
)

var ErrUnknownMethod = errors.New("unknown payment method")

// Authorizer places a hold on a card for the given amount.
type Authorizer interface {
	Hold(ctx context.Context, amount int64) (string, error)
}

// An Authorizer that can also release holds gets back every hold the store
// drops before a ride settles it.
type holdReleaser interface {
	Cancel(ctx context.Context, holdID string) error
}

// PaymentStore holds the chosen payment method, the cached wallet balance and
// the readiness status.
//
// Writers: method by the payment picker; balance by wallet sync, top-ups and
// the ride core's debit; status by Prepare and SetMethod.
type PaymentStore struct {
	mu      sync.Mutex
	method  models.PaymentMethod
	balance float64
	status  models.PaymentStatus
	holdID  string

	auth   Authorizer
	store  storage.Store
	logger *zap.Logger
}

func NewPaymentStore(ctx context.Context, store storage.Store, auth Authorizer, logger *zap.Logger) *PaymentStore {
	if store == nil {
		store = storage.NopStore{}
	}
	s := &PaymentStore{
		method: models.PayCash,
		status: models.PaymentIdle,
		auth:   auth,
		store:  store,
		logger: logging.OrNop(logger),
	}
	if b, ok, err := store.Load(ctx, keyMethod); err == nil && ok {
		var m models.PaymentMethod
		if json.Unmarshal(b, &m) == nil && m.Valid() {
			s.method = m
		}
	} else if err != nil {
		s.logger.Warn("payment method load failed", zap.Error(err))
	}
	if b, ok, err := store.Load(ctx, keyBalance); err == nil && ok {
		if f, perr := strconv.ParseFloat(string(b), 64); perr == nil {
			s.balance = f
		}
	} else if err != nil {
		s.logger.Warn("wallet balance load failed", zap.Error(err))
	}
	return s
}

// SetMethod always resets the status to idle: a new method invalidates any
// earlier readiness confirmation and releases its card hold.
func (s *PaymentStore) SetMethod(ctx context.Context, m models.PaymentMethod) error {
	if !m.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMethod, m)
	}
	s.mu.Lock()
	s.method = m
	s.status = models.PaymentIdle
	dropped := s.holdID
	s.holdID = ""
	s.mu.Unlock()
	s.release(ctx, dropped)
	b, _ := json.Marshal(m)
	s.persist(ctx, keyMethod, b)
	return nil
}

func (s *PaymentStore) SetStatus(st models.PaymentStatus) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *PaymentStore) Selection() models.PaymentSelection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.PaymentSelection{Method: s.method, WalletBalanceFcfa: s.balance, Status: s.status}
}

// AddFunds credits the cached balance, never letting it go negative.
func (s *PaymentStore) AddFunds(ctx context.Context, amount float64) float64 {
	s.mu.Lock()
	s.balance += amount
	if s.balance < 0 {
		s.balance = 0
	}
	b := s.balance
	s.mu.Unlock()
	s.persistBalance(ctx, b)
	return b
}

// SyncBalance replaces the cached balance with the backend's figure.
func (s *PaymentStore) SyncBalance(ctx context.Context, balance float64) {
	s.mu.Lock()
	s.balance = balance
	s.mu.Unlock()
	s.persistBalance(ctx, balance)
}

// Debit only touches the balance for the wallet method; it succeeds iff the
// balance covers the amount. Other methods are charged out of band and always
// succeed.
func (s *PaymentStore) Debit(ctx context.Context, amount float64) bool {
	s.mu.Lock()
	if s.method != models.PayWallet {
		s.mu.Unlock()
		return true
	}
	if s.balance < amount {
		s.mu.Unlock()
		return false
	}
	s.balance -= amount
	b := s.balance
	s.mu.Unlock()
	s.persistBalance(ctx, b)
	return true
}

// Prepare confirms the selected method can pay amount and records the outcome
// in the status. Card payments place a hold through the Authorizer, replacing
// any hold an earlier Prepare left behind.
func (s *PaymentStore) Prepare(ctx context.Context, amount float64) (models.PaymentStatus, error) {
	s.mu.Lock()
	method := s.method
	stale := s.holdID
	s.holdID = ""
	defer s.release(ctx, stale)
	switch method {
	case models.PayWallet:
		if s.balance >= amount {
			s.status = models.PaymentReady
		} else {
			s.status = models.PaymentFailed
		}
		st := s.status
		s.mu.Unlock()
		return st, nil
	case models.PayCard:
		s.status = models.PaymentProcessing
		s.mu.Unlock()
	default:
		s.status = models.PaymentReady
		s.mu.Unlock()
		return models.PaymentReady, nil
	}

	if s.auth == nil {
		s.finishPrepare(ctx, method, models.PaymentFailed, "")
		return models.PaymentFailed, errors.New("card payments are not configured")
	}
	id, err := s.auth.Hold(ctx, int64(amount))
	if err != nil {
		s.finishPrepare(ctx, method, models.PaymentFailed, "")
		return models.PaymentFailed, fmt.Errorf("card hold: %w", err)
	}
	return s.finishPrepare(ctx, method, models.PaymentReady, id), nil
}

// finishPrepare drops the outcome, and releases the new hold, if the method
// changed while the hold was in flight.
func (s *PaymentStore) finishPrepare(ctx context.Context, method models.PaymentMethod, st models.PaymentStatus, holdID string) models.PaymentStatus {
	s.mu.Lock()
	if s.method != method {
		cur := s.status
		s.mu.Unlock()
		s.release(ctx, holdID)
		return cur
	}
	dropped := s.holdID
	s.status = st
	s.holdID = holdID
	s.mu.Unlock()
	s.release(ctx, dropped)
	return st
}

// HoldID is the card hold placed by the last successful Prepare.
func (s *PaymentStore) HoldID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holdID
}

// TakeHold returns the current card hold and forgets it, so a hold is settled
// at most once.
func (s *PaymentStore) TakeHold() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.holdID
	s.holdID = ""
	return id
}

// DropHold forgets holdID if it is still the current hold and reports whether
// it did. The caller then owns the release.
func (s *PaymentStore) DropHold(holdID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if holdID == "" || s.holdID != holdID {
		return false
	}
	s.holdID = ""
	return true
}

func (s *PaymentStore) release(ctx context.Context, holdID string) {
	if holdID == "" {
		return
	}
	r, ok := s.auth.(holdReleaser)
	if !ok {
		s.logger.Warn("card hold dropped without a releaser", zap.String("hold_id", holdID))
		return
	}
	if err := r.Cancel(context.WithoutCancel(ctx), holdID); err != nil {
		s.logger.Warn("card hold release failed", zap.String("hold_id", holdID), zap.Error(err))
	}
}

func (s *PaymentStore) persistBalance(ctx context.Context, b float64) {
	s.persist(ctx, keyBalance, []byte(strconv.FormatFloat(b, 'f', -1, 64)))
}

func (s *PaymentStore) persist(ctx context.Context, key string, v []byte) {
	if err := s.store.Save(ctx, key, v); err != nil {
		s.logger.Warn("payment state save failed", zap.String("key", key), zap.Error(err))
	}
}
