package nodeclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClient_StoreFetchDelete_RoundTrip(t *testing.T) {
	stored := map[string][]byte{}

	mux := http.NewServeMux()
	mux.HandleFunc("/store", func(w http.ResponseWriter, r *http.Request) {
		var req storeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		data, err := base64.StdEncoding.DecodeString(req.Data)
		require.NoError(t, err)
		stored[req.ChunkID] = data
		_ = json.NewEncoder(w).Encode(storeResponse{Status: "ok", Node: "n1"})
	})
	mux.HandleFunc("/chunk/c1", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			data, ok := stored["c1"]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(chunkResponse{ChunkID: "c1", Data: base64.StdEncoding.EncodeToString(data)})
		case http.MethodDelete:
			delete(stored, "c1")
			w.WriteHeader(http.StatusOK)
		}
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(time.Second)

	require.NoError(t, c.Store(context.Background(), srv.URL, "c1", []byte("hello")))

	data, err := c.Fetch(context.Background(), srv.URL, "c1")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	require.NoError(t, c.Delete(context.Background(), srv.URL, "c1"))

	_, err = c.Fetch(context.Background(), srv.URL, "c1")
	require.ErrorIs(t, err, ErrChunkNotFound)
}

func TestClient_OrbitalStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/orbital-status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(OrbitalStatus{NodeID: "n1", IsInBlackout: true, NextBlackoutInMs: 1234})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(time.Second)
	st, err := c.OrbitalStatus(context.Background(), srv.URL)
	require.NoError(t, err)
	require.True(t, st.IsInBlackout)
	require.Equal(t, int64(1234), st.NextBlackoutInMs)
}

func TestClient_Store_BoundedByTimeoutOnHungNode(t *testing.T) {
	block := make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/store", func(w http.ResponseWriter, r *http.Request) {
		<-block // never responds within the test
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer close(block)

	c := New(50 * time.Millisecond)

	start := time.Now()
	err := c.Store(context.Background(), srv.URL, "c1", []byte("x"))
	elapsed := time.Since(start)

	require.Error(t, err)
	require.Less(t, elapsed, 2*time.Second)
}

func TestClient_Store_BlackoutReturnsErrNodeInBlackout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/store", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(time.Second)
	err := c.Store(context.Background(), srv.URL, "c1", []byte("x"))
	require.ErrorIs(t, err, ErrNodeInBlackout)
}
