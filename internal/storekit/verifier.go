package storekit

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"storegate/internal/purchase"
)

// TransactionClaims are the claims carried by a signed store transaction
// record. Date fields are milliseconds since the Unix epoch.
type TransactionClaims struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	PurchaseDateMs        int64  `json:"purchaseDate"`
	ExpiresDateMs         int64  `json:"expiresDate"`
	AutoRenew             bool   `json:"autoRenewStatus"`
	Environment           string `json:"environment"`
	jwt.RegisteredClaims
}

// JWSVerifier verifies ES256-signed transaction payloads against the store's
// signing key.
type JWSVerifier struct {
	key *ecdsa.PublicKey
}

// NewJWSVerifier constructs a verifier for the given public key.
func NewJWSVerifier(key *ecdsa.PublicKey) *JWSVerifier {
	return &JWSVerifier{key: key}
}

// NewJWSVerifierFromPEM parses a PEM-encoded ECDSA public key.
func NewJWSVerifierFromPEM(pemData []byte) (*JWSVerifier, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("signing key PEM contains no block")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("signing key is %T, want *ecdsa.PublicKey", parsed)
	}
	return NewJWSVerifier(key), nil
}

// NewJWSVerifierFromPEMFile loads the signing key from disk.
func NewJWSVerifierFromPEMFile(path string) (*JWSVerifier, error) {
	pemData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	return NewJWSVerifierFromPEM(pemData)
}

// Verify checks the payload's signature and maps its claims to a verified
// transaction. Tokens signed with any algorithm other than ES256 are
// rejected.
func (v *JWSVerifier) Verify(ctx context.Context, signed purchase.SignedTransaction) (*purchase.VerifiedTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if signed.Payload == "" {
		return nil, errors.New("signed payload is empty")
	}

	claims := &TransactionClaims{}
	_, err := jwt.ParseWithClaims(signed.Payload, claims, func(token *jwt.Token) (any, error) {
		return v.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("parse signed transaction: %w", err)
	}

	if claims.TransactionID == "" {
		return nil, errors.New("signed transaction has no transaction id")
	}
	if claims.ProductID == "" {
		return nil, errors.New("signed transaction has no product id")
	}

	tx := &purchase.VerifiedTransaction{
		TransactionID:         claims.TransactionID,
		OriginalTransactionID: claims.OriginalTransactionID,
		ProductID:             claims.ProductID,
		PurchaseTime:          time.UnixMilli(claims.PurchaseDateMs).UTC(),
		AutoRenew:             claims.AutoRenew,
		Environment:           claims.Environment,
		Signed:                signed,
	}
	if claims.OriginalTransactionID == "" {
		tx.OriginalTransactionID = claims.TransactionID
	}
	if claims.ExpiresDateMs > 0 {
		tx.ExpiryTime = time.UnixMilli(claims.ExpiresDateMs).UTC()
	}
	return tx, nil
}
