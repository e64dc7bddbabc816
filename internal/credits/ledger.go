// Package credits meters operations against per-user balances. Reserve,
// commit and refund are atomic Redis scripts so a crashed gateway can never
// double-charge: an unresolved reservation expires and its refund window
// closes with it.
package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/weblinq/weblinq-go/internal/metrics"
	"github.com/weblinq/weblinq-go/internal/types"
)

// reservationTTL bounds how long a reservation can stay unresolved before
// it is considered committed. Operations finish in seconds; an hour leaves
// room for the slowest extraction plus retries.
const reservationTTL = time.Hour

// reserveScript atomically seeds a first-seen balance, checks it against
// the cost, debits, and records the reservation. Re-running with the same
// reservation id is a no-op success, which makes retries idempotent.
var reserveScript = redis.NewScript(`
local balKey = KEYS[1]
local resKey = KEYS[2]
local cost = tonumber(ARGV[1])
local start = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

if redis.call('EXISTS', resKey) == 1 then
  return {1, tonumber(redis.call('GET', balKey) or '0')}
end

if redis.call('EXISTS', balKey) == 0 then
  redis.call('SET', balKey, start)
end

local bal = tonumber(redis.call('GET', balKey))
if bal < cost then
  return {0, bal}
end

redis.call('DECRBY', balKey, cost)
redis.call('SET', resKey, cost, 'EX', ttl)
return {1, bal - cost}
`)

// refundScript returns the reserved cost to the balance, exactly once: the
// reservation key is the guard, so refunding twice or refunding after a
// commit both do nothing.
var refundScript = redis.NewScript(`
local resKey = KEYS[1]
local balKey = KEYS[2]

local cost = redis.call('GET', resKey)
if not cost then
  return 0
end

redis.call('DEL', resKey)
redis.call('INCRBY', balKey, tonumber(cost))
return 1
`)

// Ledger is the Redis-backed credit store.
type Ledger struct {
	rdb          *redis.Client
	startCredits int64
}

// New creates a Ledger. startCredits is granted to a user on first sight.
func New(rdb *redis.Client, startCredits int64) *Ledger {
	return &Ledger{rdb: rdb, startCredits: startCredits}
}

// Reservation is a pending debit. Exactly one of Commit or Refund resolves
// it; both are safe to call more than once.
type Reservation struct {
	ID     string
	UserID string
	Cost   int64
}

func balanceKey(userID string) string {
	return "credits:balance:" + userID
}

func reservationKey(id string) string {
	return "credits:reservation:" + id
}

// Reserve debits cost from the user's balance and returns a reservation.
// An insufficient balance returns a CreditError carrying the balance seen.
func (l *Ledger) Reserve(ctx context.Context, userID string, cost int64) (*Reservation, error) {
	res := &Reservation{ID: uuid.NewString(), UserID: userID, Cost: cost}

	vals, err := reserveScript.Run(ctx, l.rdb,
		[]string{balanceKey(userID), reservationKey(res.ID)},
		cost, l.startCredits, int(reservationTTL.Seconds()),
	).Int64Slice()
	if err != nil {
		metrics.RecordCreditOp("reserve", "error")
		return nil, fmt.Errorf("credit reserve: %w", err)
	}
	if len(vals) != 2 {
		metrics.RecordCreditOp("reserve", "error")
		return nil, fmt.Errorf("credit reserve: unexpected script reply %v", vals)
	}

	if vals[0] == 0 {
		metrics.RecordCreditOp("reserve", "insufficient")
		return nil, &types.CreditError{Balance: vals[1], Cost: cost}
	}

	metrics.RecordCreditOp("reserve", "ok")
	log.Debug().
		Str("user", userID).
		Int64("cost", cost).
		Int64("balance", vals[1]).
		Msg("Credits reserved")
	return res, nil
}

// Commit finalizes a reservation, making the debit permanent.
func (l *Ledger) Commit(ctx context.Context, res *Reservation) error {
	if res == nil {
		return nil
	}
	if err := l.rdb.Del(ctx, reservationKey(res.ID)).Err(); err != nil {
		metrics.RecordCreditOp("commit", "error")
		return fmt.Errorf("credit commit: %w", err)
	}
	metrics.RecordCreditOp("commit", "ok")
	return nil
}

// Refund returns the reserved cost to the user. Refunding an already
// resolved reservation is a no-op.
func (l *Ledger) Refund(ctx context.Context, res *Reservation) error {
	if res == nil {
		return nil
	}
	refunded, err := refundScript.Run(ctx, l.rdb,
		[]string{reservationKey(res.ID), balanceKey(res.UserID)},
	).Int64()
	if err != nil {
		metrics.RecordCreditOp("refund", "error")
		return fmt.Errorf("credit refund: %w", err)
	}
	if refunded == 1 {
		metrics.RecordCreditOp("refund", "ok")
		log.Debug().
			Str("user", res.UserID).
			Int64("cost", res.Cost).
			Msg("Credits refunded")
	}
	return nil
}

// Balance reads a user's current balance. Unknown users report the
// first-sight grant without creating the key.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	val, err := l.rdb.Get(ctx, balanceKey(userID)).Int64()
	if err == redis.Nil {
		return l.startCredits, nil
	}
	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	return val, nil
}
