// Package offercodes redeems single-use offer codes against Redis.
package offercodes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCodeAlreadyRedeemed signals a code already claimed by another user.
var ErrCodeAlreadyRedeemed = errors.New("offer code already redeemed")

// Redemption is the stored outcome of a successful code claim.
type Redemption struct {
	Code       string    `json:"code"`
	UserID     string    `json:"user_id"`
	ProductID  string    `json:"product_id"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

// RedeemClient is the minimal Redis surface used by the Redeemer.
type RedeemClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Redeemer claims offer codes exactly once. Re-redeeming a code for the same
// user is idempotent and returns the original redemption.
type Redeemer struct {
	client    RedeemClient
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

// NewRedeemer constructs a Redeemer. A ttl of zero keeps claims forever.
func NewRedeemer(client RedeemClient, ttl time.Duration) *Redeemer {
	return &Redeemer{
		client:    client,
		keyPrefix: "offercode:",
		ttl:       ttl,
		now:       time.Now,
	}
}

// Redeem claims the code for the user. The first claim wins; a repeat claim
// by the same user returns the stored redemption.
func (r *Redeemer) Redeem(ctx context.Context, code, userID, productID string) (Redemption, error) {
	if code == "" || userID == "" {
		return Redemption{}, errors.New("code and user id required")
	}

	claimKey := r.keyPrefix + code
	claimed, err := r.client.SetNX(ctx, claimKey, userID, r.ttl).Result()
	if err != nil {
		return Redemption{}, err
	}

	if !claimed {
		owner, err := r.client.Get(ctx, claimKey).Result()
		if err != nil {
			return Redemption{}, err
		}
		if owner != userID {
			return Redemption{}, ErrCodeAlreadyRedeemed
		}
		return r.lookup(ctx, code)
	}

	redemption := Redemption{
		Code:       code,
		UserID:     userID,
		ProductID:  productID,
		RedeemedAt: r.now().UTC(),
	}
	recordKey := claimKey + ":record"
	if err := r.client.HSet(ctx, recordKey, map[string]any{
		"code":        redemption.Code,
		"user_id":     redemption.UserID,
		"product_id":  redemption.ProductID,
		"redeemed_at": redemption.RedeemedAt.Format(time.RFC3339Nano),
	}).Err(); err != nil {
		return Redemption{}, err
	}
	if r.ttl > 0 {
		if err := r.client.Expire(ctx, recordKey, r.ttl).Err(); err != nil {
			return Redemption{}, err
		}
	}
	return redemption, nil
}

func (r *Redeemer) lookup(ctx context.Context, code string) (Redemption, error) {
	fields, err := r.client.HGetAll(ctx, r.keyPrefix+code+":record").Result()
	if err != nil {
		return Redemption{}, err
	}
	if len(fields) == 0 {
		return Redemption{}, fmt.Errorf("redemption record missing for code %q", code)
	}

	redemption := Redemption{
		Code:      fields["code"],
		UserID:    fields["user_id"],
		ProductID: fields["product_id"],
	}
	if raw := fields["redeemed_at"]; raw != "" {
		redeemedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Redemption{}, fmt.Errorf("parse redeemed_at: %w", err)
		}
		redemption.RedeemedAt = redeemedAt
	}
	return redemption, nil
}
