// Package rebalancer implements the background repair loop of spec.md
// section 4.6: scan metadata, grow under-replicated chunks onto a fresh
// alive node, never evict a node solely for appearing dead.
package rebalancer

import (
	"context"
	"time"

	"github.com/orbitalfs/chunkstore/internal/coordlog"
	"github.com/orbitalfs/chunkstore/internal/filemeta"
	"github.com/orbitalfs/chunkstore/internal/kvstore"
)

// NodeRegistry is the subset of noderegistry.Registry the rebalancer
// needs.
type NodeRegistry interface {
	AliveNodes(ctx context.Context) ([]string, error)
}

// NodeTransfer is the subset of nodeclient.Client the rebalancer needs
// to copy a chunk from its surviving replica to a fresh node.
type NodeTransfer interface {
	Fetch(ctx context.Context, nodeURL, chunkID string) ([]byte, error)
	Store(ctx context.Context, nodeURL, chunkID string, data []byte) error
}

// Leader reports current leadership, checked at the entry of each tick.
type Leader interface {
	AmILeader() bool
}

// Rebalancer runs the periodic repair loop.
type Rebalancer struct {
	kv       kvstore.KV
	registry NodeRegistry
	nodes    NodeTransfer
	leader   Leader
	log      coordlog.Logger
	period   time.Duration
}

// New builds a Rebalancer.
func New(kv kvstore.KV, registry NodeRegistry, nodes NodeTransfer, leader Leader, log coordlog.Logger, period time.Duration) *Rebalancer {
	return &Rebalancer{kv: kv, registry: registry, nodes: nodes, leader: leader, log: log, period: period}
}

// Run ticks every period until ctx is cancelled.
func (rb *Rebalancer) Run(ctx context.Context) {
	ticker := time.NewTicker(rb.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rb.tick(ctx)
		}
	}
}

func (rb *Rebalancer) tick(ctx context.Context) {
	if !rb.leader.AmILeader() {
		return
	}

	aliveNodes, err := rb.registry.AliveNodes(ctx)
	if err != nil {
		rb.log.Warn("rebalance tick: failed to list alive nodes", coordlog.Fields{"error": err.Error()})
		return
	}
	if len(aliveNodes) < 2 {
		return
	}

	keys, err := rb.kv.KeysByPrefix(ctx, filemeta.KeyPrefix)
	if err != nil {
		rb.log.Warn("rebalance tick: failed to list file metadata", coordlog.Fields{"error": err.Error()})
		return
	}

	for _, key := range keys {
		rb.repairFile(ctx, key, aliveNodes)
	}
}

func (rb *Rebalancer) repairFile(ctx context.Context, key string, aliveNodes []string) {
	raw, found, err := rb.kv.Get(ctx, key)
	if err != nil || !found {
		return
	}

	meta, err := filemeta.Unmarshal(raw)
	if err != nil {
		rb.log.Warn("rebalance tick: failed to parse metadata", coordlog.Fields{"key": key, "error": err.Error()})
		return
	}

	dirty := false

	for i := range meta.Chunks {
		chunk := &meta.Chunks[i]
		if !chunk.UnderReplicated() || len(chunk.Nodes) == 0 {
			continue
		}

		target := firstMissing(aliveNodes, *chunk)
		if target == "" {
			continue
		}

		source := chunk.Nodes[0]
		data, err := rb.nodes.Fetch(ctx, source, chunk.ChunkID)
		if err != nil {
			rb.log.Warn("rebalance: fetch from source failed, skipping", coordlog.Fields{"fileId": meta.FileID, "chunkId": chunk.ChunkID, "source": source, "error": err.Error()})
			continue
		}

		if err := rb.nodes.Store(ctx, target, chunk.ChunkID, data); err != nil {
			rb.log.Warn("rebalance: store to target failed, skipping", coordlog.Fields{"fileId": meta.FileID, "chunkId": chunk.ChunkID, "target": target, "error": err.Error()})
			continue
		}

		// A node URL is never removed from chunk.Nodes just because it
		// appeared dead: liveness is transient, and a returning node's
		// bytes remain authoritative as long as they match the hash.
		chunk.Nodes = append(chunk.Nodes, target)
		dirty = true

		rb.log.Info("repaired under-replicated chunk", coordlog.Fields{"fileId": meta.FileID, "chunkId": chunk.ChunkID, "source": source, "target": target})
	}

	if dirty {
		serialized, err := filemeta.Marshal(meta)
		if err != nil {
			rb.log.Warn("rebalance: failed to serialize repaired metadata", coordlog.Fields{"fileId": meta.FileID, "error": err.Error()})
			return
		}
		if err := rb.kv.Set(ctx, key, serialized); err != nil {
			rb.log.Warn("rebalance: failed to write repaired metadata", coordlog.Fields{"fileId": meta.FileID, "error": err.Error()})
		}
	}
}

func firstMissing(aliveNodes []string, chunk filemeta.Chunk) string {
	for _, node := range aliveNodes {
		if !chunk.HasNode(node) {
			return node
		}
	}
	return ""
}
