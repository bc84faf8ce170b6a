package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// maxAttempts bounds the purchase loop. Only user cancellations are ever
// retried, so the cap is deliberately small.
const maxAttempts = 3

// ErrNoResult signals the attempt loop produced no store result at all.
var ErrNoResult = errors.New("purchase produced no result")

// ErrUnverified signals a store result whose payload is missing or failed
// signature verification.
var ErrUnverified = errors.New("purchase result could not be verified")

// StoreClient is the external store transaction API surface used by the
// coordinator. Purchase drives a single purchase call and classifies its
// result; Finish acknowledges delivery of a transaction and is idempotent
// per transaction ID.
type StoreClient interface {
	Purchase(ctx context.Context, productID string) (*AttemptResult, error)
	Finish(ctx context.Context, transactionID string) error
}

// Verifier checks a signed transaction record and extracts its contents.
type Verifier interface {
	Verify(ctx context.Context, signed SignedTransaction) (*VerifiedTransaction, error)
}

// Request describes one purchase attempt sequence.
type Request struct {
	ProductID            string
	FinishAfterSuccess   bool
	RetryOnUserCancelled bool
}

// Result is the terminal outcome of an attempt sequence. Transaction is set
// only when Outcome is OutcomeSuccess.
type Result struct {
	Outcome     OutcomeKind
	Transaction *VerifiedTransaction
}

// Coordinator drives purchase requests against a store client, retrying
// user cancellations with linear backoff and verifying successful results.
// Each invocation owns its own attempt state, so a single Coordinator is
// safe for concurrent use.
type Coordinator struct {
	store    StoreClient
	verifier Verifier
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(store StoreClient, verifier Verifier, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:    store,
		verifier: verifier,
		logger:   logger,
		sleep:    sleepWithContext,
	}
}

// Attempt performs at most maxAttempts purchase calls for the requested
// product. A user-cancelled result is retried only when the request enables
// it and attempts remain, sleeping attempt-count seconds between calls;
// every other outcome terminates the loop immediately. Store call errors
// pass through unretried. A cancelled context abandons the in-flight
// attempt with no compensation.
func (c *Coordinator) Attempt(ctx context.Context, req Request) (Result, error) {
	if req.ProductID == "" {
		return Result{}, errors.New("product id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var last *AttemptResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		res, err := c.store.Purchase(ctx, req.ProductID)
		if err != nil {
			return Result{}, fmt.Errorf("store purchase: %w", err)
		}
		last = res

		if res == nil || res.Outcome != OutcomeUserCancelled {
			break
		}
		if !req.RetryOnUserCancelled || attempt == maxAttempts {
			break
		}

		backoff := time.Duration(attempt) * time.Second
		c.logger.Info("purchase cancelled by user, retrying",
			zap.String("product_id", req.ProductID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff))
		if err := c.sleep(ctx, backoff); err != nil {
			return Result{}, err
		}
	}

	if last == nil {
		return Result{}, ErrNoResult
	}

	switch last.Outcome {
	case OutcomePending:
		return Result{Outcome: OutcomePending}, nil
	case OutcomeUserCancelled:
		return Result{Outcome: OutcomeUserCancelled}, nil
	case OutcomeFailed:
		if last.Failure != nil {
			return Result{Outcome: OutcomeFailed}, last.Failure
		}
		return Result{Outcome: OutcomeFailed}, errors.New("store reported failure without detail")
	case OutcomeSuccess:
	default:
		return Result{}, ErrNoResult
	}

	if last.Transaction == nil {
		return Result{}, ErrUnverified
	}
	verified, err := c.verifier.Verify(ctx, *last.Transaction)
	if err != nil {
		return Result{}, errors.Join(ErrUnverified, err)
	}

	if req.FinishAfterSuccess {
		// The acknowledgment is idempotent store-side; a failed ack must not
		// lose an already-verified purchase.
		if err := c.store.Finish(ctx, verified.TransactionID); err != nil {
			c.logger.Warn("finish transaction failed",
				zap.String("transaction_id", verified.TransactionID),
				zap.Error(err))
		}
	}

	return Result{Outcome: OutcomeSuccess, Transaction: verified}, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
