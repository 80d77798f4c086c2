// Package noderegistry derives the live-set of storage nodes from
// heartbeat timestamps written by the storage nodes themselves into the
// KV, per spec.md section 4.2.
package noderegistry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/orbitalfs/chunkstore/internal/kvstore"
)

const heartbeatKeyPrefix = "node:"

// NodeID derives the stable heartbeat-key identifier for a configured
// node URL.
func NodeID(nodeURL string) string {
	sum := sha256.Sum256([]byte(nodeURL))
	return hex.EncodeToString(sum[:8])
}

// Registry answers "which configured nodes are alive right now",
// preserving configuration order so round-robin placement is
// deterministic.
type Registry struct {
	kv        kvstore.KV
	nodeURLs  []string
	deadAfter time.Duration
}

// New builds a Registry over the given configured node-URL pool.
// deadAfter is spec.md's HEARTBEAT_DEAD_MS, as a duration.
func New(kv kvstore.KV, nodeURLs []string, deadAfter time.Duration) *Registry {
	cp := make([]string, len(nodeURLs))
	copy(cp, nodeURLs)
	return &Registry{kv: kv, nodeURLs: cp, deadAfter: deadAfter}
}

// Nodes returns every configured node URL, in configuration order.
func (r *Registry) Nodes() []string {
	cp := make([]string, len(r.nodeURLs))
	copy(cp, r.nodeURLs)
	return cp
}

// AliveNodes returns the subset of configured nodes whose last heartbeat
// is within deadAfter, in configuration order. A missing heartbeat key
// means unknown, treated as not alive.
func (r *Registry) AliveNodes(ctx context.Context) ([]string, error) {
	now := time.Now().UnixMilli()

	var alive []string
	for _, url := range r.nodeURLs {
		key := heartbeatKeyPrefix + NodeID(url)
		value, found, err := r.kv.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		lastSeen, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		if now-lastSeen < r.deadAfter.Milliseconds() {
			alive = append(alive, url)
		}
	}
	return alive, nil
}

// IsAlive reports a single node's liveness without an AliveNodes scan.
func (r *Registry) IsAlive(ctx context.Context, nodeURL string) (bool, error) {
	key := heartbeatKeyPrefix + NodeID(nodeURL)
	value, found, err := r.kv.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	lastSeen, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return false, nil
	}
	return time.Now().UnixMilli()-lastSeen < r.deadAfter.Milliseconds(), nil
}
