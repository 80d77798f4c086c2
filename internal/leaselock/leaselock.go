// Package leaselock implements the fenced leader lease of spec.md
// section 4.1: a single named lock key in the KV, acquired by
// set-if-absent and renewed by the holder on a tick shorter than the
// lock's TTL.
package leaselock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/orbitalfs/chunkstore/internal/coordlog"
	"github.com/orbitalfs/chunkstore/internal/kvstore"
)

// Lease periodically contends for a single named lock key.
type Lease struct {
	kv       kvstore.KV
	log      coordlog.Logger
	lockKey  string
	masterID string
	tick     time.Duration
	ttl      time.Duration

	leader atomic.Bool
}

// New builds a Lease. Call Start to begin the acquire/renew loop.
func New(kv kvstore.KV, log coordlog.Logger, lockKey, masterID string, tick, ttl time.Duration) *Lease {
	return &Lease{
		kv:       kv,
		log:      log,
		lockKey:  lockKey,
		masterID: masterID,
		tick:     tick,
		ttl:      ttl,
	}
}

// AmILeader reports this process's current belief about leadership. A
// stale read is acceptable per spec.md section 5.
func (l *Lease) AmILeader() bool {
	return l.leader.Load()
}

// Start runs the acquire/renew loop until ctx is cancelled.
func (l *Lease) Start(ctx context.Context) {
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tryAdvance(ctx)
		}
	}
}

func (l *Lease) tryAdvance(ctx context.Context) {
	if !l.leader.Load() {
		acquired, err := l.kv.SetIfAbsent(ctx, l.lockKey, l.masterID, l.ttl)
		if err != nil {
			// Acquire errors are retried next tick, not fatal.
			l.log.Warn("lease acquire failed, retrying next tick", coordlog.Fields{"error": err.Error()})
			return
		}
		if acquired {
			l.leader.Store(true)
			l.log.Info("became leader", coordlog.Fields{"lockKey": l.lockKey})
		}
		return
	}

	value, found, err := l.kv.Get(ctx, l.lockKey)
	if err != nil {
		l.leader.Store(false)
		l.log.Warn("lease renew failed, dropping leadership", coordlog.Fields{"error": err.Error()})
		return
	}
	if !found || value != l.masterID {
		l.leader.Store(false)
		l.log.Info("lost leadership", coordlog.Fields{"lockKey": l.lockKey})
		return
	}

	if err := l.kv.Expire(ctx, l.lockKey, l.ttl); err != nil {
		l.leader.Store(false)
		l.log.Warn("lease renew failed, dropping leadership", coordlog.Fields{"error": err.Error()})
	}
}
