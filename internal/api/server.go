// Package api exposes the purchase, entitlement, and paywall HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"storegate/internal/db/ledger"
	"storegate/internal/entitlements"
	"storegate/internal/observability"
	"storegate/internal/offercodes"
	"storegate/internal/paywall"
	"storegate/internal/purchase"
	"storegate/internal/realtime"
	"storegate/internal/subscriptions"
)

// PurchaseCompleter drives a purchase attempt end to end.
type PurchaseCompleter interface {
	CompletePurchase(ctx context.Context, userID string, req purchase.Request) (purchase.Result, error)
}

// CodeRedeemer claims offer codes.
type CodeRedeemer interface {
	Redeem(ctx context.Context, code, userID, productID string) (offercodes.Redemption, error)
}

// EntitlementGranter grants entitlements outside the store purchase path.
type EntitlementGranter interface {
	Grant(ctx context.Context, ent entitlements.Entitlement) error
}

// SubscriptionReader looks up the latest ledger record per user and product.
type SubscriptionReader interface {
	LatestByUserProduct(ctx context.Context, userID, productID string) (*ledger.Record, error)
}

// Config carries the server's tunables.
type Config struct {
	// GracePeriod keeps lapsed subscriptions reported as in grace.
	GracePeriod time.Duration
}

// Server routes HTTP and WebSocket traffic to the domain services. Optional
// collaborators may be nil; their routes then answer 404 or 503.
type Server struct {
	router        *mux.Router
	purchases     PurchaseCompleter
	redeemer      CodeRedeemer
	entitlements  EntitlementGranter
	subscriptions SubscriptionReader
	paywalls      *paywall.Catalog
	hub           *realtime.Hub
	metrics       *observability.Metrics
	logger        *zap.Logger
	upgrader      websocket.Upgrader
	grace         time.Duration
	now           func() time.Time
}

// NewServer constructs the Server and registers its routes.
func NewServer(
	cfg Config,
	purchases PurchaseCompleter,
	redeemer CodeRedeemer,
	granter EntitlementGranter,
	subs SubscriptionReader,
	paywalls *paywall.Catalog,
	hub *realtime.Hub,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		router:        mux.NewRouter(),
		purchases:     purchases,
		redeemer:      redeemer,
		entitlements:  granter,
		subscriptions: subs,
		paywalls:      paywalls,
		hub:           hub,
		metrics:       metrics,
		logger:        logger,
		grace:         cfg.GracePeriod,
		now:           time.Now,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", observability.Handler(s.metrics)).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/purchases", s.handlePurchase).Methods(http.MethodPost)
	v1.HandleFunc("/offercodes/redeem", s.handleRedeem).Methods(http.MethodPost)
	v1.HandleFunc("/subscriptions/{productID}", s.handleSubscription).Methods(http.MethodGet)
	v1.HandleFunc("/paywalls/{paywallID}", s.handlePaywall).Methods(http.MethodGet)
	v1.HandleFunc("/updates", s.handleUpdates).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type purchaseRequest struct {
	UserID               string `json:"user_id"`
	ProductID            string `json:"product_id"`
	FinishAfterSuccess   bool   `json:"finish_after_success"`
	RetryOnUserCancelled bool   `json:"retry_on_user_cancelled"`
}

type purchaseResponse struct {
	Outcome     string                        `json:"outcome"`
	Transaction *purchase.VerifiedTransaction `json:"transaction,omitempty"`
	Error       string                        `json:"error,omitempty"`
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	if s.purchases == nil {
		writeError(w, http.StatusServiceUnavailable, "purchases unavailable")
		return
	}

	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "user_id and product_id are required")
		return
	}

	res, err := s.purchases.CompletePurchase(r.Context(), req.UserID, purchase.Request{
		ProductID:            req.ProductID,
		FinishAfterSuccess:   req.FinishAfterSuccess,
		RetryOnUserCancelled: req.RetryOnUserCancelled,
	})
	s.metrics.AddPurchaseOutcome(res.Outcome.String())

	if err != nil {
		if errors.Is(err, purchase.ErrUnverified) {
			s.metrics.AddVerificationFailure()
		}
		s.logger.Warn("purchase attempt failed",
			zap.String("user_id", req.UserID),
			zap.String("product_id", req.ProductID),
			zap.String("outcome", res.Outcome.String()),
			zap.Error(err))
		status := http.StatusBadGateway
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, purchaseResponse{Outcome: res.Outcome.String(), Error: err.Error()})
		return
	}

	switch res.Outcome {
	case purchase.OutcomeSuccess:
		writeJSON(w, http.StatusOK, purchaseResponse{
			Outcome:     res.Outcome.String(),
			Transaction: res.Transaction,
		})
	case purchase.OutcomePending:
		writeJSON(w, http.StatusAccepted, purchaseResponse{Outcome: res.Outcome.String()})
	case purchase.OutcomeUserCancelled:
		writeJSON(w, http.StatusConflict, purchaseResponse{Outcome: res.Outcome.String()})
	default:
		writeJSON(w, http.StatusBadGateway, purchaseResponse{Outcome: res.Outcome.String()})
	}
}

type redeemRequest struct {
	Code      string `json:"code"`
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	if s.redeemer == nil {
		writeError(w, http.StatusServiceUnavailable, "offer codes unavailable")
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" || req.UserID == "" || req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "code, user_id, and product_id are required")
		return
	}

	redemption, err := s.redeemer.Redeem(r.Context(), req.Code, req.UserID, req.ProductID)
	if err != nil {
		if errors.Is(err, offercodes.ErrCodeAlreadyRedeemed) {
			writeError(w, http.StatusConflict, "offer code already redeemed")
			return
		}
		s.logger.Warn("offer code redemption failed",
			zap.String("user_id", req.UserID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "redemption failed")
		return
	}

	if s.entitlements != nil {
		err := s.entitlements.Grant(r.Context(), entitlements.Entitlement{
			UserID:    redemption.UserID,
			ProductID: redemption.ProductID,
			Source:    entitlements.SourceOfferCode,
		})
		if err != nil {
			s.logger.Error("entitlement grant after redemption failed",
				zap.String("user_id", redemption.UserID),
				zap.String("code", redemption.Code),
				zap.Error(err))
			writeError(w, http.StatusInternalServerError, "entitlement grant failed")
			return
		}
	}

	writeJSON(w, http.StatusOK, redemption)
}

type subscriptionResponse struct {
	subscriptions.Info
	Status    subscriptions.Status `json:"status"`
	WillRenew bool                 `json:"will_renew"`
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	if s.subscriptions == nil {
		writeError(w, http.StatusServiceUnavailable, "subscriptions unavailable")
		return
	}

	productID := mux.Vars(r)["productID"]
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	rec, err := s.subscriptions.LatestByUserProduct(r.Context(), userID, productID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotRecorded) {
			writeError(w, http.StatusNotFound, "no subscription for product")
			return
		}
		s.logger.Error("subscription lookup failed",
			zap.String("user_id", userID),
			zap.String("product_id", productID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "subscription lookup failed")
		return
	}

	info := subscriptions.FromRecord(rec)
	writeJSON(w, http.StatusOK, subscriptionResponse{
		Info:      info,
		Status:    info.StatusAt(s.now(), s.grace),
		WillRenew: info.WillRenew(),
	})
}

func (s *Server) handlePaywall(w http.ResponseWriter, r *http.Request) {
	if s.paywalls == nil {
		writeError(w, http.StatusServiceUnavailable, "paywalls unavailable")
		return
	}

	paywallID := mux.Vars(r)["paywallID"]
	doc := s.paywalls.Get(paywallID)
	if doc == nil {
		writeError(w, http.StatusNotFound, "paywall not found")
		return
	}

	locale := r.URL.Query().Get("locale")
	if locale == "" {
		locale = r.Header.Get("Accept-Language")
	}
	resolved, err := doc.Resolve(locale)
	if err != nil {
		s.logger.Error("paywall resolution failed",
			zap.String("paywall_id", paywallID),
			zap.String("locale", locale),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "paywall resolution failed")
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "updates unavailable")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.hub.Register <- conn
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
