package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storegate/internal/purchase"
)

// ErrNotRecorded signals a transaction with no ledger entry.
var ErrNotRecorded = errors.New("transaction not recorded")

// ErrAlreadyRefunded signals a transaction already marked refunded.
var ErrAlreadyRefunded = errors.New("transaction already refunded")

// Record is one ledger entry for a verified transaction.
type Record struct {
	TransactionID         string     `json:"transaction_id"`
	OriginalTransactionID string     `json:"original_transaction_id"`
	UserID                string     `json:"user_id"`
	ProductID             string     `json:"product_id"`
	Environment           string     `json:"environment"`
	PurchaseTime          time.Time  `json:"purchase_time"`
	ExpiryTime            *time.Time `json:"expiry_time,omitempty"`
	AutoRenew             bool       `json:"auto_renew"`
	SignedPayload         string     `json:"-"`
	RecordedAt            time.Time  `json:"recorded_at"`
	RefundTime            *time.Time `json:"refund_time,omitempty"`
}

// PurchaseStore persists verified transactions in Postgres.
type PurchaseStore struct {
	db *sql.DB
}

// NewPurchaseStore constructs a PurchaseStore backed by Postgres.
func NewPurchaseStore(db *sql.DB) *PurchaseStore {
	return &PurchaseStore{db: db}
}

// NewPurchaseStoreWithSchema initializes the schema then returns the store.
func NewPurchaseStoreWithSchema(ctx context.Context, db *sql.DB) (*PurchaseStore, error) {
	store := NewPurchaseStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the purchases table if it does not exist.
func (s *PurchaseStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS purchases (
			transaction_id TEXT PRIMARY KEY,
			original_transaction_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			product_id TEXT NOT NULL,
			environment TEXT NOT NULL,
			purchase_time TIMESTAMPTZ NOT NULL,
			expiry_time TIMESTAMPTZ,
			auto_renew BOOLEAN NOT NULL DEFAULT FALSE,
			signed_payload TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			refund_time TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS purchases_user_product_idx
			ON purchases (user_id, product_id, purchase_time DESC)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record inserts a verified transaction. Re-recording the same transaction
// ID reports purchase.ErrAlreadyRecorded.
func (s *PurchaseStore) Record(ctx context.Context, userID string, tx *purchase.VerifiedTransaction) error {
	if userID == "" {
		return fmt.Errorf("user id required")
	}
	if tx == nil || tx.TransactionID == "" {
		return fmt.Errorf("transaction id required")
	}

	var expiry any
	if !tx.ExpiryTime.IsZero() {
		expiry = tx.ExpiryTime
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO purchases (transaction_id, original_transaction_id, user_id, product_id, environment, purchase_time, expiry_time, auto_renew, signed_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (transaction_id) DO NOTHING`,
		tx.TransactionID, tx.OriginalTransactionID, userID, tx.ProductID, tx.Environment, tx.PurchaseTime, expiry, tx.AutoRenew, tx.Signed.Payload,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return purchase.ErrAlreadyRecorded
	}
	return nil
}

const recordColumns = `transaction_id, original_transaction_id, user_id, product_id, environment, purchase_time, expiry_time, auto_renew, signed_payload, recorded_at, refund_time`

// GetByTransactionID returns the ledger entry for a transaction.
func (s *PurchaseStore) GetByTransactionID(ctx context.Context, transactionID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM purchases
		WHERE transaction_id = $1`,
		transactionID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotRecorded
	}
	return rec, err
}

// LatestByUserProduct returns the user's most recent purchase of a product.
func (s *PurchaseStore) LatestByUserProduct(ctx context.Context, userID, productID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM purchases
		WHERE user_id = $1 AND product_id = $2
		ORDER BY purchase_time DESC
		LIMIT 1`,
		userID, productID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotRecorded
	}
	return rec, err
}

// ListByUser returns the user's purchases, newest first.
func (s *PurchaseStore) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM purchases
		WHERE user_id = $1
		ORDER BY purchase_time DESC
		LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// MarkRefunded sets the refund time for a transaction.
func (s *PurchaseStore) MarkRefunded(ctx context.Context, transactionID string, refundTime time.Time) error {
	if transactionID == "" {
		return fmt.Errorf("transaction id required")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE purchases SET refund_time = $2
		WHERE transaction_id = $1 AND refund_time IS NULL`,
		transactionID, refundTime,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var refunded bool
	row := s.db.QueryRowContext(ctx, `SELECT refund_time IS NOT NULL FROM purchases WHERE transaction_id = $1`, transactionID)
	switch scanErr := row.Scan(&refunded); scanErr {
	case nil:
		if refunded {
			return ErrAlreadyRefunded
		}
		return ErrNotRecorded
	case sql.ErrNoRows:
		return ErrNotRecorded
	default:
		return scanErr
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var expiry, refund sql.NullTime
	if err := row.Scan(
		&rec.TransactionID, &rec.OriginalTransactionID, &rec.UserID, &rec.ProductID,
		&rec.Environment, &rec.PurchaseTime, &expiry, &rec.AutoRenew,
		&rec.SignedPayload, &rec.RecordedAt, &refund,
	); err != nil {
		return nil, err
	}
	if expiry.Valid {
		rec.ExpiryTime = &expiry.Time
	}
	if refund.Valid {
		rec.RefundTime = &refund.Time
	}
	return &rec, nil
}
