// Package subscriptions derives subscription state from ledger records.
package subscriptions

import (
	"time"

	"storegate/internal/db/ledger"
)

// Status is the derived state of a subscription at a point in time.
type Status int

const (
	StatusExpired Status = iota
	StatusActive
	StatusGracePeriod
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusGracePeriod:
		return "grace_period"
	default:
		return "expired"
	}
}

// MarshalText renders the status for JSON responses.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Info describes one subscription.
type Info struct {
	ProductID             string     `json:"product_id"`
	OriginalTransactionID string     `json:"original_transaction_id"`
	PurchaseTime          time.Time  `json:"purchase_time"`
	ExpiryTime            *time.Time `json:"expiry_time,omitempty"`
	AutoRenew             bool       `json:"auto_renew"`
	Refunded              bool       `json:"refunded"`
	Environment           string     `json:"environment"`
}

// FromRecord builds subscription info from a ledger record.
func FromRecord(rec *ledger.Record) Info {
	return Info{
		ProductID:             rec.ProductID,
		OriginalTransactionID: rec.OriginalTransactionID,
		PurchaseTime:          rec.PurchaseTime,
		ExpiryTime:            rec.ExpiryTime,
		AutoRenew:             rec.AutoRenew,
		Refunded:              rec.RefundTime != nil,
		Environment:           rec.Environment,
	}
}

// StatusAt derives the subscription status at the given time. A refunded
// subscription is always expired; one with no expiry never expires. The
// grace window keeps a lapsed subscription usable while billing recovers.
func (i Info) StatusAt(now time.Time, grace time.Duration) Status {
	if i.Refunded {
		return StatusExpired
	}
	if i.ExpiryTime == nil {
		return StatusActive
	}
	if now.Before(*i.ExpiryTime) {
		return StatusActive
	}
	if grace > 0 && now.Before(i.ExpiryTime.Add(grace)) {
		return StatusGracePeriod
	}
	return StatusExpired
}

// WillRenew reports whether the subscription is set to auto-renew.
func (i Info) WillRenew() bool {
	return i.AutoRenew && !i.Refunded
}

// RemainingAt returns time left until expiry, zero if lapsed or non-expiring.
func (i Info) RemainingAt(now time.Time) time.Duration {
	if i.ExpiryTime == nil || !now.Before(*i.ExpiryTime) {
		return 0
	}
	return i.ExpiryTime.Sub(now)
}
