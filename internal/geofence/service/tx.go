package service

import (
	"context"
	"sync"
	"time"

	id "safezone/pkg/domain"
	dErrors "safezone/pkg/domain-errors"
)

// TrackingTx serializes read-decide-append for one patient. Implementations
// wrap a database transaction holding a per-patient lock or, in memory, a
// sharded mutex keyed by patient.
type TrackingTx interface {
	RunInTx(ctx context.Context, patientID id.PatientID, fn func(ctx context.Context) error) error
}

// numTrackingShards bounds lock memory; patients hashing to the same shard
// share a mutex but never observe each other's state.
const numTrackingShards = 128

// DefaultTxTimeout caps a patient-scoped transaction when the caller's
// context has no deadline.
const DefaultTxTimeout = 5 * time.Second

type shardedTrackingTx struct {
	shards  [numTrackingShards]sync.Mutex
	timeout time.Duration
}

func newShardedTrackingTx() *shardedTrackingTx {
	return &shardedTrackingTx{timeout: DefaultTxTimeout}
}

func (t *shardedTrackingTx) RunInTx(ctx context.Context, patientID id.PatientID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = DefaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := &t.shards[ShardFor(patientID, numTrackingShards)]
	shard.Lock()
	defer shard.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	return fn(ctx)
}

// ShardFor maps a patient onto one of n shards with FNV-1a.
func ShardFor(patientID id.PatientID, n int) int {
	return int(hashString(patientID.String()) % uint32(n))
}

func hashString(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
