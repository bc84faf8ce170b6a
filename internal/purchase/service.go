package purchase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrAlreadyRecorded signals a transaction already present in the ledger,
// e.g. a restored purchase or a repeated delivery of the same transaction.
var ErrAlreadyRecorded = errors.New("transaction already recorded")

// Recorder persists verified transactions. Implementations must be
// idempotent per transaction ID and report ErrAlreadyRecorded on repeats.
type Recorder interface {
	Record(ctx context.Context, userID string, tx *VerifiedTransaction) error
}

// Granter syncs an entitlement for a verified transaction.
type Granter interface {
	GrantTransaction(ctx context.Context, userID string, tx *VerifiedTransaction) error
}

// Service coordinates a purchase attempt with ledger persistence and
// entitlement sync.
type Service struct {
	coordinator  *Coordinator
	ledger       Recorder
	entitlements Granter
	logger       *zap.Logger
}

// NewService constructs a Service. Ledger and entitlements may be nil, in
// which case the corresponding step is skipped.
func NewService(coordinator *Coordinator, ledger Recorder, entitlements Granter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		coordinator:  coordinator,
		ledger:       ledger,
		entitlements: entitlements,
		logger:       logger,
	}
}

// CompletePurchase drives the attempt loop and, on a verified success,
// records the transaction and grants the entitlement. A transaction that is
// already in the ledger is treated as a restore and still granted. Failures
// past the attempt loop are surfaced but never roll back the store-side
// purchase.
func (s *Service) CompletePurchase(ctx context.Context, userID string, req Request) (Result, error) {
	res, err := s.coordinator.Attempt(ctx, req)
	if err != nil || res.Outcome != OutcomeSuccess {
		return res, err
	}

	if s.ledger != nil {
		if err := s.ledger.Record(ctx, userID, res.Transaction); err != nil {
			if !errors.Is(err, ErrAlreadyRecorded) {
				return res, fmt.Errorf("record purchase: %w", err)
			}
			s.logger.Info("transaction already recorded, treating as restore",
				zap.String("transaction_id", res.Transaction.TransactionID),
				zap.String("user_id", userID))
		}
	}

	if s.entitlements != nil {
		if err := s.entitlements.GrantTransaction(ctx, userID, res.Transaction); err != nil {
			return res, fmt.Errorf("grant entitlement: %w", err)
		}
	}

	return res, nil
}
