package purchase

import "time"

// OutcomeKind classifies the result of a single store purchase call.
type OutcomeKind int

const (
	// OutcomeUnknown marks an absent or unrecognized store result.
	OutcomeUnknown OutcomeKind = iota
	OutcomeSuccess
	OutcomePending
	OutcomeUserCancelled
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomePending:
		return "pending"
	case OutcomeUserCancelled:
		return "user_cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SignedTransaction is the raw signed record returned by the store API.
// The payload is a compact JWS whose claims describe the transaction.
type SignedTransaction struct {
	Payload string `json:"payload"`
}

// VerifiedTransaction is a store transaction whose signature has been
// checked. Ownership transfers to the caller on a successful attempt.
type VerifiedTransaction struct {
	TransactionID         string            `json:"transaction_id"`
	OriginalTransactionID string            `json:"original_transaction_id"`
	ProductID             string            `json:"product_id"`
	PurchaseTime          time.Time         `json:"purchase_time"`
	ExpiryTime            time.Time         `json:"expiry_time,omitzero"`
	AutoRenew             bool              `json:"auto_renew"`
	Environment           string            `json:"environment"`
	Signed                SignedTransaction `json:"-"`
}

// AttemptResult is the classified result of one store purchase call.
// Transaction is set only when Outcome is OutcomeSuccess; Failure carries
// the store-reported detail when Outcome is OutcomeFailed.
type AttemptResult struct {
	Outcome     OutcomeKind
	Transaction *SignedTransaction
	Failure     error
}
