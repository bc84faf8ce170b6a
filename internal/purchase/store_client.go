package purchase

import (
	"context"
	"errors"
	"sync"
)

// NewScriptedStoreClient constructs an in-memory store client that replays
// the given results in order, then falls back to Default for any further
// calls. It backs local runs and tests.
func NewScriptedStoreClient(results ...ScriptedResult) *ScriptedStoreClient {
	return &ScriptedStoreClient{results: results}
}

// ScriptedResult is one scripted store response.
type ScriptedResult struct {
	Result *AttemptResult
	Err    error
}

// ScriptedStoreClient replays scripted purchase results in memory.
type ScriptedStoreClient struct {
	mu       sync.Mutex
	results  []ScriptedResult
	Default  *AttemptResult
	calls    int
	finished []string
}

func (c *ScriptedStoreClient) Purchase(ctx context.Context, productID string) (*AttemptResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if productID == "" {
		return nil, errors.New("product id required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= len(c.results) {
		scripted := c.results[c.calls-1]
		return scripted.Result, scripted.Err
	}
	return c.Default, nil
}

func (c *ScriptedStoreClient) Finish(ctx context.Context, transactionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = append(c.finished, transactionID)
	return nil
}

// PurchaseCalls returns how many purchase calls were made (for testing/inspection).
func (c *ScriptedStoreClient) PurchaseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Finished returns the transaction IDs acknowledged so far (for testing/inspection).
func (c *ScriptedStoreClient) Finished() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.finished))
	copy(out, c.finished)
	return out
}
