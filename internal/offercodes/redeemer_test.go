package offercodes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedeemer(t *testing.T, ttl time.Duration) (*Redeemer, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return NewRedeemer(client, ttl), mr
}

func TestRedeemer_FirstClaimWins(t *testing.T) {
	redeemer, _ := newTestRedeemer(t, time.Hour)
	redeemer.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	got, err := redeemer.Redeem(context.Background(), "SPRING26", "user-1", "pro.monthly")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if got.UserID != "user-1" || got.ProductID != "pro.monthly" {
		t.Fatalf("unexpected redemption: %+v", got)
	}

	_, err = redeemer.Redeem(context.Background(), "SPRING26", "user-2", "pro.monthly")
	if !errors.Is(err, ErrCodeAlreadyRedeemed) {
		t.Fatalf("expected ErrCodeAlreadyRedeemed, got %v", err)
	}
}

func TestRedeemer_SameUserIsIdempotent(t *testing.T) {
	redeemer, _ := newTestRedeemer(t, time.Hour)
	redeemedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	redeemer.now = func() time.Time { return redeemedAt }

	first, err := redeemer.Redeem(context.Background(), "SPRING26", "user-1", "pro.monthly")
	if err != nil {
		t.Fatalf("first redeem: %v", err)
	}

	redeemer.now = func() time.Time { return redeemedAt.Add(time.Hour) }
	second, err := redeemer.Redeem(context.Background(), "SPRING26", "user-1", "pro.monthly")
	if err != nil {
		t.Fatalf("repeat redeem: %v", err)
	}
	if !second.RedeemedAt.Equal(first.RedeemedAt) {
		t.Fatalf("expected original redemption, got %+v", second)
	}
}

func TestRedeemer_ClaimExpires(t *testing.T) {
	redeemer, mr := newTestRedeemer(t, time.Minute)

	if _, err := redeemer.Redeem(context.Background(), "SPRING26", "user-1", "pro.monthly"); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := redeemer.Redeem(context.Background(), "SPRING26", "user-2", "pro.monthly"); err != nil {
		t.Fatalf("expected claim to expire, got %v", err)
	}
}

func TestRedeemer_Validates(t *testing.T) {
	redeemer, _ := newTestRedeemer(t, 0)
	if _, err := redeemer.Redeem(context.Background(), "", "user-1", "p"); err == nil {
		t.Fatalf("expected error for empty code")
	}
	if _, err := redeemer.Redeem(context.Background(), "SPRING26", "", "p"); err == nil {
		t.Fatalf("expected error for empty user")
	}
}
