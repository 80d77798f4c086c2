package chunkwriter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orbitalfs/chunkstore/internal/coordlog"
	"github.com/orbitalfs/chunkstore/internal/kvstore"
)

var errTestStoreFailed = errors.New("test: store failed")

type fakeRegistry struct {
	nodes []string
	err   error
}

func (f *fakeRegistry) AliveNodes(ctx context.Context) ([]string, error) {
	return f.nodes, f.err
}

type storedChunk struct {
	nodeURL string
	chunkID string
	data    []byte
}

type fakeNodeStore struct {
	stored     []storedChunk
	deleted    []storedChunk
	failOn     map[string]bool // nodeURL that fails every Store
	failAfterN int              // fail the Nth overall Store call (1-indexed), 0 = never
	storeCalls int
}

func (f *fakeNodeStore) Store(ctx context.Context, nodeURL, chunkID string, data []byte) error {
	f.storeCalls++
	if f.failOn[nodeURL] {
		return errTestStoreFailed
	}
	if f.failAfterN != 0 && f.storeCalls == f.failAfterN {
		return errTestStoreFailed
	}
	cp := append([]byte(nil), data...)
	f.stored = append(f.stored, storedChunk{nodeURL: nodeURL, chunkID: chunkID, data: cp})
	return nil
}

func (f *fakeNodeStore) Delete(ctx context.Context, nodeURL, chunkID string) error {
	f.deleted = append(f.deleted, storedChunk{nodeURL: nodeURL, chunkID: chunkID})
	return nil
}

func TestWriter_Upload_HappyPath(t *testing.T) {
	nodes := []string{"http://n1", "http://n2", "http://n3"}
	registry := &fakeRegistry{nodes: nodes}
	store := &fakeNodeStore{failOn: map[string]bool{}}
	kv := kvstore.NewFake()
	log := coordlog.New(nil, "test")

	w := New(registry, store, kv, log, 1<<20) // 1 MiB chunks

	data := make([]byte, int(2.5*(1<<20)))
	for i := range data {
		data[i] = 0xAB
	}

	meta, err := w.Upload(context.Background(), true, "payload.bin", data)
	require.NoError(t, err)
	require.Equal(t, 3, meta.TotalChunks)
	require.Len(t, meta.Chunks, 3)

	require.Equal(t, []string{"http://n1", "http://n2"}, meta.Chunks[0].Nodes)
	require.Equal(t, []string{"http://n2", "http://n3"}, meta.Chunks[1].Nodes)
	require.Equal(t, []string{"http://n3", "http://n1"}, meta.Chunks[2].Nodes)

	for i, chunk := range meta.Chunks {
		require.NotEqual(t, meta.Chunks[(i+1)%len(meta.Chunks)].ChunkID, chunk.ChunkID)
	}

	raw, found, err := kv.Get(context.Background(), "file:"+meta.FileID)
	require.NoError(t, err)
	require.True(t, found)
	require.Contains(t, raw, meta.FileID)

	sum := sha256.Sum256(data[:1<<20])
	require.Equal(t, hex.EncodeToString(sum[:]), meta.Chunks[0].Hash)
}

func TestWriter_Upload_NotLeader(t *testing.T) {
	registry := &fakeRegistry{nodes: []string{"http://n1", "http://n2"}}
	store := &fakeNodeStore{}
	kv := kvstore.NewFake()
	log := coordlog.New(nil, "test")

	w := New(registry, store, kv, log, 1<<20)

	_, err := w.Upload(context.Background(), false, "f.txt", []byte("data"))
	require.ErrorIs(t, err, ErrNotLeader)
}

func TestWriter_Upload_InsufficientNodes(t *testing.T) {
	registry := &fakeRegistry{nodes: []string{"http://n1"}}
	store := &fakeNodeStore{}
	kv := kvstore.NewFake()
	log := coordlog.New(nil, "test")

	w := New(registry, store, kv, log, 1<<20)

	_, err := w.Upload(context.Background(), true, "f.txt", []byte("data"))
	require.ErrorIs(t, err, ErrInsufficientNodes)
}

func TestWriter_Upload_RollbackOnFailure(t *testing.T) {
	registry := &fakeRegistry{nodes: []string{"http://n1", "http://n2"}}
	store := &fakeNodeStore{failOn: map[string]bool{"http://n2": true}}
	kv := kvstore.NewFake()
	log := coordlog.New(nil, "test")

	w := New(registry, store, kv, log, 1<<20)

	data := make([]byte, 1<<20) // exactly one chunk, stored on n1 then fails on n2
	_, err := w.Upload(context.Background(), true, "f.txt", data)
	require.ErrorIs(t, err, ErrReplicationFailed)

	require.Len(t, store.deleted, 1)
	require.Equal(t, "http://n1", store.deleted[0].nodeURL)

	keys, err := kv.KeysByPrefix(context.Background(), "file:")
	require.NoError(t, err)
	require.Empty(t, keys)
}
