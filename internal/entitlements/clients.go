package entitlements

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// NewInMemoryBackendClient constructs an in-memory entitlement backend.
func NewInMemoryBackendClient() *InMemoryBackendClient {
	return &InMemoryBackendClient{
		entitlements: make(map[string]Entitlement),
	}
}

// InMemoryBackendClient tracks entitlements in memory. It backs tests and
// DB-less local runs.
type InMemoryBackendClient struct {
	mu           sync.Mutex
	entitlements map[string]Entitlement
}

func (c *InMemoryBackendClient) Sync(ctx context.Context, ent Entitlement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entitlements[ent.UserID+"/"+ent.ProductID] = ent
	return nil
}

func (c *InMemoryBackendClient) Revoke(ctx context.Context, userID, productID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entitlements[userID+"/"+productID]; !ok {
		return errors.New("revoke without grant")
	}
	delete(c.entitlements, userID+"/"+productID)
	return nil
}

// Entitled reports whether the user holds the product (for testing/inspection).
func (c *InMemoryBackendClient) Entitled(userID, productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entitlements[userID+"/"+productID]
	return ok
}

// HTTPBackendClient posts entitlement changes to the backend entitlement
// service.
type HTTPBackendClient struct {
	httpc     *http.Client
	syncURL   string
	revokeURL string
}

// NewHTTPBackendClient constructs an HTTP-backed entitlement client.
func NewHTTPBackendClient(syncURL, revokeURL string, timeout time.Duration) *HTTPBackendClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPBackendClient{
		httpc:     &http.Client{Timeout: timeout},
		syncURL:   syncURL,
		revokeURL: revokeURL,
	}
}

func (c *HTTPBackendClient) Sync(ctx context.Context, ent Entitlement) error {
	return c.post(ctx, c.syncURL, ent)
}

func (c *HTTPBackendClient) Revoke(ctx context.Context, userID, productID string) error {
	return c.post(ctx, c.revokeURL, map[string]string{
		"user_id":    userID,
		"product_id": productID,
	})
}

func (c *HTTPBackendClient) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("entitlement backend returned %d", resp.StatusCode)
	}
	return nil
}
