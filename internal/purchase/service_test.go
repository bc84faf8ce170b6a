package purchase

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type memoryRecorder struct {
	mu      sync.Mutex
	records map[string]string
	err     error
}

func newMemoryRecorder() *memoryRecorder {
	return &memoryRecorder{records: make(map[string]string)}
}

func (r *memoryRecorder) Record(ctx context.Context, userID string, tx *VerifiedTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.records[tx.TransactionID]; ok {
		return ErrAlreadyRecorded
	}
	r.records[tx.TransactionID] = userID
	return nil
}

type stubGranter struct {
	granted []string
	err     error
}

func (g *stubGranter) GrantTransaction(ctx context.Context, userID string, tx *VerifiedTransaction) error {
	if g.err != nil {
		return g.err
	}
	g.granted = append(g.granted, userID+"/"+tx.ProductID)
	return nil
}

func TestCompletePurchase_RecordsAndGrants(t *testing.T) {
	store := NewScriptedStoreClient(success("a"))
	recorder := newMemoryRecorder()
	granter := &stubGranter{}
	svc := NewService(newTestCoordinator(store, &stubVerifier{}, nil), recorder, granter, nil)

	res, err := svc.CompletePurchase(context.Background(), "user-1", Request{ProductID: "pro.monthly"})
	if err != nil {
		t.Fatalf("complete purchase: %v", err)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %v", res.Outcome)
	}
	if got := recorder.records["tx-a"]; got != "user-1" {
		t.Fatalf("expected recorded for user-1, got %q", got)
	}
	if len(granter.granted) != 1 {
		t.Fatalf("expected one grant, got %v", granter.granted)
	}
}

func TestCompletePurchase_DuplicateIsRestore(t *testing.T) {
	store := NewScriptedStoreClient(success("a"), success("a"))
	recorder := newMemoryRecorder()
	granter := &stubGranter{}
	svc := NewService(newTestCoordinator(store, &stubVerifier{}, nil), recorder, granter, nil)

	if _, err := svc.CompletePurchase(context.Background(), "user-1", Request{ProductID: "pro.monthly"}); err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	if _, err := svc.CompletePurchase(context.Background(), "user-1", Request{ProductID: "pro.monthly"}); err != nil {
		t.Fatalf("restore must not fail: %v", err)
	}
	if len(granter.granted) != 2 {
		t.Fatalf("expected grant on restore too, got %v", granter.granted)
	}
}

func TestCompletePurchase_NonSuccessSkipsPersistence(t *testing.T) {
	store := NewScriptedStoreClient(cancelled())
	recorder := newMemoryRecorder()
	granter := &stubGranter{}
	svc := NewService(newTestCoordinator(store, &stubVerifier{}, nil), recorder, granter, nil)

	res, err := svc.CompletePurchase(context.Background(), "user-1", Request{ProductID: "pro.monthly"})
	if err != nil {
		t.Fatalf("complete purchase: %v", err)
	}
	if res.Outcome != OutcomeUserCancelled {
		t.Fatalf("expected cancelled, got %v", res.Outcome)
	}
	if len(recorder.records) != 0 || len(granter.granted) != 0 {
		t.Fatalf("expected no persistence on cancellation")
	}
}

func TestCompletePurchase_RecordErrorSurfaces(t *testing.T) {
	boom := errors.New("ledger down")
	store := NewScriptedStoreClient(success("a"))
	recorder := newMemoryRecorder()
	recorder.err = boom
	svc := NewService(newTestCoordinator(store, &stubVerifier{}, nil), recorder, &stubGranter{}, nil)

	if _, err := svc.CompletePurchase(context.Background(), "user-1", Request{ProductID: "pro.monthly"}); !errors.Is(err, boom) {
		t.Fatalf("expected ledger error, got %v", err)
	}
}

func TestCompletePurchase_GrantErrorSurfaces(t *testing.T) {
	boom := errors.New("backend down")
	store := NewScriptedStoreClient(success("a"))
	svc := NewService(newTestCoordinator(store, &stubVerifier{}, nil), newMemoryRecorder(), &stubGranter{err: boom}, nil)

	res, err := svc.CompletePurchase(context.Background(), "user-1", Request{ProductID: "pro.monthly"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected grant error, got %v", err)
	}
	if res.Outcome != OutcomeSuccess {
		t.Fatalf("verified result should still be reported, got %v", res.Outcome)
	}
}
