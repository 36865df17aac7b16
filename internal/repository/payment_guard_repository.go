package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const paymentGuardPrefix = "fees:payment:txn:"

// PaymentGuardRepository claims payment transaction ids in Redis so a replayed
// submission is rejected before it reaches the ledger.
type PaymentGuardRepository struct {
	client *redis.Client
}

// NewPaymentGuardRepository constructs the guard. A nil client lets every claim through.
func NewPaymentGuardRepository(client *redis.Client) *PaymentGuardRepository {
	return &PaymentGuardRepository{client: client}
}

// Claim atomically marks transactionID as in use. It returns false when the id was already claimed.
func (r *PaymentGuardRepository) Claim(ctx context.Context, transactionID string, ttl time.Duration) (bool, error) {
	if r.client == nil || transactionID == "" {
		return true, nil
	}
	ok, err := r.client.SetNX(ctx, paymentGuardPrefix+transactionID, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim payment transaction %s: %w", transactionID, err)
	}
	return ok, nil
}

// Release drops a claim so a failed payment can be retried with the same id.
func (r *PaymentGuardRepository) Release(ctx context.Context, transactionID string) error {
	if r.client == nil || transactionID == "" {
		return nil
	}
	if err := r.client.Del(ctx, paymentGuardPrefix+transactionID).Err(); err != nil {
		return fmt.Errorf("release payment transaction %s: %w", transactionID, err)
	}
	return nil
}
