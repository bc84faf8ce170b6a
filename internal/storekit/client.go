package storekit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"storegate/internal/purchase"
)

// statusWrongEnvironment is returned by the store service when a request for
// one environment reaches the other; the call should be repeated against the
// sandbox endpoint.
const statusWrongEnvironment = 21007

// ErrNon200Store signals an unexpected HTTP status from the store service.
var ErrNon200Store = errors.New("non-200 response from store service")

// Config holds the store transaction API endpoints and credentials.
type Config struct {
	PurchaseURL        string
	SandboxPurchaseURL string
	FinishURL          string
	SharedSecret       string
	Timeout            time.Duration
}

// Client calls the store transaction API over HTTP. Purchases are attempted
// against the production endpoint first and repeated against the sandbox
// endpoint when the store reports a wrong-environment status.
type Client struct {
	httpc  *http.Client
	cfg    Config
	logger *zap.Logger
}

// NewClient constructs a Client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpc:  &http.Client{Timeout: timeout},
		cfg:    cfg,
		logger: logger,
	}
}

type purchaseEnvelope struct {
	Status            int    `json:"status"`
	Environment       string `json:"environment"`
	Outcome           string `json:"outcome"`
	SignedTransaction string `json:"signedTransaction"`
	ErrorMessage      string `json:"errorMessage"`
}

// Purchase drives one purchase call for the product and classifies the
// store's response.
func (c *Client) Purchase(ctx context.Context, productID string) (*purchase.AttemptResult, error) {
	if productID == "" {
		return nil, errors.New("product id required")
	}

	env, err := c.purchaseWithURL(ctx, c.cfg.PurchaseURL, productID)
	if err != nil {
		return nil, err
	}
	if env.Status == statusWrongEnvironment && c.cfg.SandboxPurchaseURL != "" {
		c.logger.Debug("store reported wrong environment, repeating against sandbox",
			zap.String("product_id", productID))
		env, err = c.purchaseWithURL(ctx, c.cfg.SandboxPurchaseURL, productID)
		if err != nil {
			return nil, err
		}
	}

	return classifyEnvelope(env), nil
}

// Finish acknowledges delivery of a transaction. The store treats the
// acknowledgment as idempotent per transaction ID.
func (c *Client) Finish(ctx context.Context, transactionID string) error {
	if transactionID == "" {
		return errors.New("transaction id required")
	}

	payload := map[string]any{
		"transactionId": transactionID,
		"password":      c.cfg.SharedSecret,
	}
	resp, err := c.post(ctx, c.cfg.FinishURL, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrNon200Store, resp.StatusCode)
	}
	return nil
}

func (c *Client) purchaseWithURL(ctx context.Context, url, productID string) (*purchaseEnvelope, error) {
	if url == "" {
		return nil, errors.New("purchase url must not be empty")
	}

	payload := map[string]any{
		"productId": productID,
		"password":  c.cfg.SharedSecret,
	}
	resp, err := c.post(ctx, url, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrNon200Store, resp.StatusCode)
	}

	env := &purchaseEnvelope{}
	if err := json.NewDecoder(resp.Body).Decode(env); err != nil {
		return nil, fmt.Errorf("decode store response: %w", err)
	}
	return env, nil
}

func (c *Client) post(ctx context.Context, url string, payload map[string]any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpc.Do(req)
}

func classifyEnvelope(env *purchaseEnvelope) *purchase.AttemptResult {
	switch env.Outcome {
	case "success":
		if env.SignedTransaction == "" {
			return &purchase.AttemptResult{Outcome: purchase.OutcomeSuccess}
		}
		return &purchase.AttemptResult{
			Outcome:     purchase.OutcomeSuccess,
			Transaction: &purchase.SignedTransaction{Payload: env.SignedTransaction},
		}
	case "pending":
		return &purchase.AttemptResult{Outcome: purchase.OutcomePending}
	case "userCancelled":
		return &purchase.AttemptResult{Outcome: purchase.OutcomeUserCancelled}
	case "failed":
		detail := env.ErrorMessage
		if detail == "" {
			detail = fmt.Sprintf("store status %d", env.Status)
		}
		return &purchase.AttemptResult{
			Outcome: purchase.OutcomeFailed,
			Failure: errors.New(detail),
		}
	default:
		return &purchase.AttemptResult{Outcome: purchase.OutcomeUnknown}
	}
}
