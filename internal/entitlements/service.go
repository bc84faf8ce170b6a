package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storegate/internal/purchase"
)

// Entitlement is one user's access to one product.
type Entitlement struct {
	UserID        string    `json:"user_id"`
	ProductID     string    `json:"product_id"`
	TransactionID string    `json:"transaction_id,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitzero"`
	Source        string    `json:"source"`
}

// Entitlement sources.
const (
	SourceStore     = "store"
	SourceOfferCode = "offer_code"
)

// BackendClient syncs entitlements to the backend entitlement service.
type BackendClient interface {
	Sync(ctx context.Context, ent Entitlement) error
	Revoke(ctx context.Context, userID, productID string) error
}

// Cache holds the latest entitlement per user and product for fast reads.
type Cache interface {
	Put(ctx context.Context, ent Entitlement) error
}

// EventSink receives entitlement change notifications.
type EventSink interface {
	EntitlementUpdated(ent Entitlement)
}

// Service grants and revokes entitlements: backend sync first, then cache
// and notification. Cache and sink are best-effort and may be nil.
type Service struct {
	backend BackendClient
	cache   Cache
	events  EventSink
	logger  *zap.Logger
}

// NewService constructs a Service.
func NewService(backend BackendClient, cache Cache, events EventSink, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		backend: backend,
		cache:   cache,
		events:  events,
		logger:  logger,
	}
}

// Grant syncs the entitlement to the backend, caches it, and notifies
// listeners. A cache write failure is logged but does not fail the grant.
func (s *Service) Grant(ctx context.Context, ent Entitlement) error {
	if ent.UserID == "" || ent.ProductID == "" {
		return errors.New("user id and product id required")
	}

	if err := s.backend.Sync(ctx, ent); err != nil {
		return fmt.Errorf("sync entitlement: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, ent); err != nil {
			s.logger.Warn("entitlement cache write failed",
				zap.String("user_id", ent.UserID),
				zap.String("product_id", ent.ProductID),
				zap.Error(err))
		}
	}
	if s.events != nil {
		s.events.EntitlementUpdated(ent)
	}

	s.logger.Info("entitlement granted",
		zap.String("user_id", ent.UserID),
		zap.String("product_id", ent.ProductID),
		zap.String("source", ent.Source))
	return nil
}

// GrantTransaction grants the entitlement described by a verified store
// transaction.
func (s *Service) GrantTransaction(ctx context.Context, userID string, tx *purchase.VerifiedTransaction) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return s.Grant(ctx, Entitlement{
		UserID:        userID,
		ProductID:     tx.ProductID,
		TransactionID: tx.TransactionID,
		ExpiresAt:     tx.ExpiryTime,
		Source:        SourceStore,
	})
}

// Revoke removes the user's entitlement from the backend and notifies
// listeners.
func (s *Service) Revoke(ctx context.Context, userID, productID string) error {
	if userID == "" || productID == "" {
		return errors.New("user id and product id required")
	}

	if err := s.backend.Revoke(ctx, userID, productID); err != nil {
		return fmt.Errorf("revoke entitlement: %w", err)
	}
	if s.events != nil {
		s.events.EntitlementUpdated(Entitlement{UserID: userID, ProductID: productID})
	}

	s.logger.Info("entitlement revoked",
		zap.String("user_id", userID),
		zap.String("product_id", productID))
	return nil
}
