package filereader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orbitalfs/chunkstore/internal/coordlog"
	"github.com/orbitalfs/chunkstore/internal/filecache"
	"github.com/orbitalfs/chunkstore/internal/filemeta"
	"github.com/orbitalfs/chunkstore/internal/kvstore"
)

var errTestFetchFailed = errors.New("test: fetch failed")

type fakeNodes struct {
	data    map[string][]byte // key: nodeURL+"|"+chunkID
	failOn  map[string]bool   // nodeURL that always fails
	fetched []string          // nodeURL of every Fetch call, in order
}

func key(nodeURL, chunkID string) string { return nodeURL + "|" + chunkID }

func (f *fakeNodes) put(nodeURL, chunkID string, data []byte) {
	if f.data == nil {
		f.data = make(map[string][]byte)
	}
	f.data[key(nodeURL, chunkID)] = data
}

func (f *fakeNodes) Fetch(ctx context.Context, nodeURL, chunkID string) ([]byte, error) {
	f.fetched = append(f.fetched, nodeURL)
	if f.failOn[nodeURL] {
		return nil, errTestFetchFailed
	}
	data, ok := f.data[key(nodeURL, chunkID)]
	if !ok {
		return nil, errTestFetchFailed
	}
	return data, nil
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestReader_Download_HappyPath(t *testing.T) {
	kv := kvstore.NewFake()
	nodes := &fakeNodes{failOn: map[string]bool{}}
	cache := filecache.New(5, 200<<20)
	r := New(kv, nodes, cache, noopLogger{}, time.Second)

	chunkA := []byte("hello ")
	chunkB := []byte("world")
	nodes.put("http://n1", "f1_chunk_0", chunkA)
	nodes.put("http://n2", "f1_chunk_0", chunkA)
	nodes.put("http://n2", "f1_chunk_1", chunkB)
	nodes.put("http://n3", "f1_chunk_1", chunkB)

	meta := &filemeta.FileMetadata{
		FileID:      "f1",
		Filename:    "greeting.txt",
		TotalChunks: 2,
		Chunks: []filemeta.Chunk{
			{ChunkID: "f1_chunk_0", Hash: hashOf(chunkA), Nodes: []string{"http://n1", "http://n2"}},
			{ChunkID: "f1_chunk_1", Hash: hashOf(chunkB), Nodes: []string{"http://n2", "http://n3"}},
		},
	}
	serialized, err := filemeta.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, kv.Set(context.Background(), "file:f1", serialized))

	data, filename, err := r.Download(context.Background(), "f1")
	require.NoError(t, err)
	require.Equal(t, "greeting.txt", filename)
	require.Equal(t, "hello world", string(data))

	require.True(t, cache.Has("f1"))

	// Second download is served from cache; wipe the metadata to prove
	// no KV access is needed.
	require.NoError(t, kv.Set(context.Background(), "file:f1", "corrupted"))
	data2, filename2, err := r.Download(context.Background(), "f1")
	require.NoError(t, err)
	require.Equal(t, data, data2)
	require.Equal(t, filename, filename2)
}

func TestReader_Download_NotFound(t *testing.T) {
	kv := kvstore.NewFake()
	nodes := &fakeNodes{}
	cache := filecache.New(5, 200<<20)
	r := New(kv, nodes, cache, noopLogger{}, time.Second)

	_, _, err := r.Download(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReader_Download_AllReplicasFailed(t *testing.T) {
	kv := kvstore.NewFake()
	nodes := &fakeNodes{failOn: map[string]bool{"http://n1": true, "http://n2": true}}
	cache := filecache.New(5, 200<<20)
	r := New(kv, nodes, cache, noopLogger{}, time.Second)

	meta := &filemeta.FileMetadata{
		FileID: "f1",
		Chunks: []filemeta.Chunk{
			{ChunkID: "f1_chunk_0", Hash: "deadbeef", Nodes: []string{"http://n1", "http://n2"}},
		},
	}
	serialized, _ := filemeta.Marshal(meta)
	require.NoError(t, kv.Set(context.Background(), "file:f1", serialized))

	_, _, err := r.Download(context.Background(), "f1")
	require.ErrorIs(t, err, ErrReplicaUnavailable)
}

func TestReader_Download_IntegrityMismatchDoesNotFallBack(t *testing.T) {
	kv := kvstore.NewFake()
	nodes := &fakeNodes{}
	tampered := []byte("tampered bytes")
	good := []byte("original bytes!")
	nodes.put("http://n1", "f1_chunk_0", tampered)
	nodes.put("http://n2", "f1_chunk_0", good)
	cache := filecache.New(5, 200<<20)
	r := New(kv, nodes, cache, noopLogger{}, time.Second)

	meta := &filemeta.FileMetadata{
		FileID: "f1",
		Chunks: []filemeta.Chunk{
			// hash matches the good replica, but n1 (tampered) is listed
			// first, so it is tried first and must not fall back to n2.
			{ChunkID: "f1_chunk_0", Hash: hashOf(good), Nodes: []string{"http://n1", "http://n2"}},
		},
	}
	serialized, _ := filemeta.Marshal(meta)
	require.NoError(t, kv.Set(context.Background(), "file:f1", serialized))

	_, _, err := r.Download(context.Background(), "f1")
	require.ErrorIs(t, err, ErrIntegrityMismatch)
	require.False(t, cache.Has("f1"))
}

func TestReader_Reconstruct_AvoidsNode(t *testing.T) {
	kv := kvstore.NewFake()
	nodes := &fakeNodes{}
	data := []byte("payload")
	nodes.put("http://n1", "f1_chunk_0", data)
	nodes.put("http://n2", "f1_chunk_0", data)
	cache := filecache.New(5, 200<<20)
	r := New(kv, nodes, cache, noopLogger{}, time.Second)

	meta := &filemeta.FileMetadata{
		FileID: "f1",
		Chunks: []filemeta.Chunk{
			{ChunkID: "f1_chunk_0", Hash: hashOf(data), Nodes: []string{"http://n1", "http://n2"}},
		},
	}

	// n1 listed first normally would win; avoid it and confirm n2 serves it.
	nodes.failOn = map[string]bool{} // n1 would otherwise succeed
	out, err := r.Reconstruct(context.Background(), meta, map[string]bool{"http://n1": true})
	require.NoError(t, err)
	require.Equal(t, data, out)
	require.Equal(t, []string{"http://n2"}, nodes.fetched)
}

// noopLogger discards everything; used where tests don't assert on log
// output.
type noopLogger struct{}

func (noopLogger) Debug(string, coordlog.Fields)       {}
func (noopLogger) Info(string, coordlog.Fields)        {}
func (noopLogger) Warn(string, coordlog.Fields)        {}
func (noopLogger) Error(string, coordlog.Fields)       {}
func (l noopLogger) With(coordlog.Fields) coordlog.Logger { return l }
