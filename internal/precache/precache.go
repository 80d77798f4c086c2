// Package precache implements the blackout-aware predictive pre-cache
// loop of spec.md section 4.7: poll each node's blackout schedule, and
// for any node about to go dark, reconstruct-and-cache every file that
// references it, avoiding that node as a reconstruction source.
package precache

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orbitalfs/chunkstore/internal/coordlog"
	"github.com/orbitalfs/chunkstore/internal/filecache"
	"github.com/orbitalfs/chunkstore/internal/filemeta"
	"github.com/orbitalfs/chunkstore/internal/kvstore"
	"github.com/orbitalfs/chunkstore/internal/nodeclient"
)

// NodeRegistry is the subset of noderegistry.Registry the loop needs.
type NodeRegistry interface {
	Nodes() []string
}

// NodeStatus is the subset of nodeclient.Client the loop needs.
type NodeStatus interface {
	OrbitalStatus(ctx context.Context, nodeURL string) (nodeclient.OrbitalStatus, error)
}

// Reconstructor is the subset of filereader.Reader the loop needs.
type Reconstructor interface {
	LoadMetadata(ctx context.Context, fileID string) (*filemeta.FileMetadata, error)
	Reconstruct(ctx context.Context, meta *filemeta.FileMetadata, avoid map[string]bool) ([]byte, error)
}

// Leader reports current leadership, checked at the entry of each tick.
type Leader interface {
	AmILeader() bool
}

// Precache runs the periodic predictive pre-cache loop.
type Precache struct {
	kv         kvstore.KV
	registry   NodeRegistry
	status     NodeStatus
	reader     Reconstructor
	cache      *filecache.Cache
	leader     Leader
	log        coordlog.Logger
	period     time.Duration
	thresholdMS int64
}

// New builds a Precache loop. thresholdMS is spec.md's
// PREDICT_THRESHOLD_MS (recommended 4000).
func New(kv kvstore.KV, registry NodeRegistry, status NodeStatus, reader Reconstructor, cache *filecache.Cache, leader Leader, log coordlog.Logger, period time.Duration, thresholdMS int64) *Precache {
	return &Precache{kv: kv, registry: registry, status: status, reader: reader, cache: cache, leader: leader, log: log, period: period, thresholdMS: thresholdMS}
}

// Run ticks every period until ctx is cancelled.
func (p *Precache) Run(ctx context.Context) {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Precache) tick(ctx context.Context) {
	if !p.leader.AmILeader() {
		return
	}

	nodes := p.registry.Nodes()
	statuses := make([]nodeclient.OrbitalStatus, len(nodes))
	errs := make([]error, len(nodes))

	g, gctx := errgroup.WithContext(ctx)
	for i, nodeURL := range nodes {
		i, nodeURL := i, nodeURL
		g.Go(func() error {
			st, err := p.status.OrbitalStatus(gctx, nodeURL)
			statuses[i] = st
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	for i, nodeURL := range nodes {
		if errs[i] != nil {
			p.log.Warn("orbital-status poll failed", coordlog.Fields{"node": nodeURL, "error": errs[i].Error()})
			continue
		}
		st := statuses[i]
		if st.IsInBlackout {
			continue
		}
		if st.NextBlackoutInMs < p.thresholdMS {
			p.preCacheFromNode(ctx, nodeURL)
		}
	}
}

func (p *Precache) preCacheFromNode(ctx context.Context, nodeURL string) {
	keys, err := p.kv.KeysByPrefix(ctx, filemeta.KeyPrefix)
	if err != nil {
		p.log.Warn("pre-cache: failed to list file metadata", coordlog.Fields{"node": nodeURL, "error": err.Error()})
		return
	}

	avoid := map[string]bool{nodeURL: true}

	for _, key := range keys {
		fileID := key[len(filemeta.KeyPrefix):]
		if p.cache.Has(fileID) {
			continue
		}

		meta, err := p.reader.LoadMetadata(ctx, fileID)
		if err != nil {
			continue
		}

		if !referencesNode(meta, nodeURL) {
			continue
		}

		if anyChunkOnlyOn(meta, nodeURL) {
			p.log.Info("pre-cache: file cannot be reconstructed without avoided node, skipping", coordlog.Fields{"fileId": fileID, "node": nodeURL})
			continue
		}

		data, err := p.reader.Reconstruct(ctx, meta, avoid)
		if err != nil {
			p.log.Info("pre-cache: reconstruction failed, skipping", coordlog.Fields{"fileId": fileID, "node": nodeURL, "error": err.Error()})
			continue
		}

		p.cache.Set(fileID, &filecache.Entry{Buffer: data, Filename: meta.Filename})
		p.log.Info("pre-cached file ahead of blackout", coordlog.Fields{"fileId": fileID, "node": nodeURL})
	}
}

func referencesNode(meta *filemeta.FileMetadata, nodeURL string) bool {
	for _, chunk := range meta.Chunks {
		if chunk.HasNode(nodeURL) {
			return true
		}
	}
	return false
}

func anyChunkOnlyOn(meta *filemeta.FileMetadata, nodeURL string) bool {
	for _, chunk := range meta.Chunks {
		if chunk.HasNode(nodeURL) && len(chunk.Nodes) == 1 {
			return true
		}
	}
	return false
}
