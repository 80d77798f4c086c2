// Package chunkwriter implements the replicated writer of spec.md
// section 4.3: chunking, round-robin placement across the live node
// set, two-node replication, and rollback on partial failure.
package chunkwriter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/orbitalfs/chunkstore/internal/coordlog"
	"github.com/orbitalfs/chunkstore/internal/filemeta"
	"github.com/orbitalfs/chunkstore/internal/kvstore"
)

// NodeRegistry is the subset of noderegistry.Registry the writer needs.
type NodeRegistry interface {
	AliveNodes(ctx context.Context) ([]string, error)
}

// NodeStore is the subset of nodeclient.Client the writer needs to
// place and roll back chunks.
type NodeStore interface {
	Store(ctx context.Context, nodeURL, chunkID string, data []byte) error
	Delete(ctx context.Context, nodeURL, chunkID string) error
}

// placement records one successfully stored (chunkID, node) pair, used
// to drive rollback on failure.
type placement struct {
	chunkID string
	nodeURL string
}

// Writer implements the upload path.
type Writer struct {
	registry  NodeRegistry
	nodes     NodeStore
	kv        kvstore.KV
	log       coordlog.Logger
	chunkSize int64

	roundRobinIndex atomic.Uint64
}

// New builds a Writer. chunkSize is spec.md's fixed chunk constant
// (default 1 MiB).
func New(registry NodeRegistry, nodes NodeStore, kv kvstore.KV, log coordlog.Logger, chunkSize int64) *Writer {
	return &Writer{registry: registry, nodes: nodes, kv: kv, log: log, chunkSize: chunkSize}
}

// Upload implements spec.md section 4.3 steps 1 through 6. isLeader must
// reflect the caller's leadership check at request entry; Upload itself
// performs no further leadership checks once started (spec.md section
// 4.1: writes are permitted to lose leadership mid-operation).
func (w *Writer) Upload(ctx context.Context, isLeader bool, filename string, data []byte) (*filemeta.FileMetadata, error) {
	if !isLeader {
		return nil, ErrNotLeader
	}

	aliveNodes, err := w.registry.AliveNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list alive nodes: %w", err)
	}
	if len(aliveNodes) < 2 {
		w.log.Warn("insufficient alive nodes for upload", coordlog.Fields{"alive": len(aliveNodes)})
		return nil, ErrInsufficientNodes
	}

	fileID := uuid.New().String()
	w.log.Info("starting upload", coordlog.Fields{"fileId": fileID, "filename": filename, "size": len(data)})

	var (
		chunks     []filemeta.Chunk
		placements []placement
	)

	offset := 0
	index := 0
	for offset < len(data) {
		end := offset + int(w.chunkSize)
		if end > len(data) {
			end = len(data)
		}
		chunkData := data[offset:end]
		offset = end

		chunkID := filemeta.ChunkID(fileID, index)
		index++

		sum := sha256.Sum256(chunkData)
		hash := hex.EncodeToString(sum[:])

		L := len(aliveNodes)
		ri := w.roundRobinIndex.Add(1) - 1
		primary := aliveNodes[int(ri)%L]
		replica := aliveNodes[int(ri+1)%L]

		if err := w.nodes.Store(ctx, primary, chunkID, chunkData); err != nil {
			w.log.Error("primary store failed, rolling back", coordlog.Fields{"fileId": fileID, "chunkId": chunkID, "node": primary, "error": err.Error()})
			w.rollback(ctx, fileID, placements)
			return nil, ErrReplicationFailed
		}
		placements = append(placements, placement{chunkID: chunkID, nodeURL: primary})

		if err := w.nodes.Store(ctx, replica, chunkID, chunkData); err != nil {
			w.log.Error("replica store failed, rolling back", coordlog.Fields{"fileId": fileID, "chunkId": chunkID, "node": replica, "error": err.Error()})
			w.rollback(ctx, fileID, placements)
			return nil, ErrReplicationFailed
		}
		placements = append(placements, placement{chunkID: chunkID, nodeURL: replica})

		chunks = append(chunks, filemeta.Chunk{
			ChunkID: chunkID,
			Hash:    hash,
			Nodes:   []string{primary, replica},
		})
	}

	meta := &filemeta.FileMetadata{
		FileID:      fileID,
		Filename:    filename,
		TotalChunks: len(chunks),
		Chunks:      chunks,
	}

	serialized, err := filemeta.Marshal(meta)
	if err != nil {
		w.log.Error("failed to serialize metadata", coordlog.Fields{"fileId": fileID, "error": err.Error()})
		return nil, fmt.Errorf("%w: %v", ErrMetadataWriteFailed, err)
	}

	if err := w.kv.Set(ctx, filemeta.Key(fileID), serialized); err != nil {
		w.log.Error("failed to commit metadata", coordlog.Fields{"fileId": fileID, "error": err.Error()})
		return nil, fmt.Errorf("%w: %v", ErrMetadataWriteFailed, err)
	}

	w.log.Info("upload committed", coordlog.Fields{"fileId": fileID, "chunks": len(chunks)})
	return meta, nil
}

// rollback deletes every already-successful placement, best-effort.
// Individual delete failures are swallowed: the chunkIds are unique to
// the aborted fileId and will never be referenced from metadata, so
// residue left behind is harmless.
func (w *Writer) rollback(ctx context.Context, fileID string, placements []placement) {
	for _, p := range placements {
		if err := w.nodes.Delete(ctx, p.nodeURL, p.chunkID); err != nil {
			w.log.Warn("rollback delete failed, residue tolerated", coordlog.Fields{"fileId": fileID, "chunkId": p.chunkID, "node": p.nodeURL, "error": err.Error()})
		}
	}
}
