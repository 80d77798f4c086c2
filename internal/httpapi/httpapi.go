// Package httpapi is the coordinator's external HTTP surface, spec.md
// section 6.1: upload, download, metadata, health, nodes, cache-status.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/orbitalfs/chunkstore/internal/chunkwriter"
	"github.com/orbitalfs/chunkstore/internal/coordlog"
	"github.com/orbitalfs/chunkstore/internal/filecache"
	"github.com/orbitalfs/chunkstore/internal/filemeta"
	"github.com/orbitalfs/chunkstore/internal/filereader"
	"github.com/orbitalfs/chunkstore/internal/kvstore"
	"github.com/orbitalfs/chunkstore/internal/nodeclient"
)

// Writer is the subset of chunkwriter.Writer the surface needs.
type Writer interface {
	Upload(ctx context.Context, isLeader bool, filename string, data []byte) (*filemeta.FileMetadata, error)
}

// Reader is the subset of filereader.Reader the surface needs.
type Reader interface {
	Download(ctx context.Context, fileID string) ([]byte, string, error)
}

// Leader reports current leadership. The coordinator's own identity is
// passed to New separately as masterID.
type Leader interface {
	AmILeader() bool
}

// NodeRegistry is the subset of noderegistry.Registry the /nodes
// endpoint needs.
type NodeRegistry interface {
	Nodes() []string
	IsAlive(ctx context.Context, nodeURL string) (bool, error)
}

// NodeStatus is the subset of nodeclient.Client the /nodes endpoint
// needs.
type NodeStatus interface {
	OrbitalStatus(ctx context.Context, nodeURL string) (nodeclient.OrbitalStatus, error)
}

// Server wires the HTTP handlers to the coordinator's internal
// components.
type Server struct {
	writer     Writer
	reader     Reader
	leader     Leader
	masterID   string
	registry   NodeRegistry
	status     NodeStatus
	kv         kvstore.KV
	cache      *filecache.Cache
	log        coordlog.Logger
	bodyLimit  int64
}

// New builds a Server. Call Router to obtain the http.Handler to serve.
func New(writer Writer, reader Reader, leader Leader, masterID string, registry NodeRegistry, status NodeStatus, kv kvstore.KV, cache *filecache.Cache, log coordlog.Logger, bodyLimit int64) *Server {
	return &Server{
		writer:    writer,
		reader:    reader,
		leader:    leader,
		masterID:  masterID,
		registry:  registry,
		status:    status,
		kv:        kv,
		cache:     cache,
		log:       log,
		bodyLimit: bodyLimit,
	}
}

// Router builds the mux.Router exposing spec.md section 6.1's routes.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	r.HandleFunc("/download/{fileId}", s.handleDownload).Methods(http.MethodGet)
	r.HandleFunc("/metadata", s.handleMetadataList).Methods(http.MethodGet)
	r.HandleFunc("/metadata/{fileId}", s.handleMetadataOne).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/nodes", s.handleNodes).Methods(http.MethodGet)
	r.HandleFunc("/cache-status", s.handleCacheStatus).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.bodyLimit)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "no file")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file")
		return
	}

	meta, err := s.writer.Upload(r.Context(), s.leader.AmILeader(), header.Filename, data)
	if err != nil {
		switch {
		case errors.Is(err, chunkwriter.ErrNotLeader):
			writeError(w, http.StatusForbidden, "not leader")
		case errors.Is(err, chunkwriter.ErrInsufficientNodes):
			writeError(w, http.StatusInternalServerError, "not enough alive nodes")
		case errors.Is(err, chunkwriter.ErrReplicationFailed):
			writeError(w, http.StatusInternalServerError, "upload failed, rolled back")
		default:
			writeError(w, http.StatusInternalServerError, "upload failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "upload successful",
		"fileId":      meta.FileID,
		"totalChunks": meta.TotalChunks,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["fileId"]

	data, filename, err := s.reader.Download(r.Context(), fileID)
	if err != nil {
		switch {
		case errors.Is(err, filereader.ErrNotFound):
			writeError(w, http.StatusNotFound, "not found")
		case errors.Is(err, filereader.ErrReplicaUnavailable):
			writeError(w, http.StatusInternalServerError, "all replicas failed for chunk")
		case errors.Is(err, filereader.ErrIntegrityMismatch):
			writeError(w, http.StatusInternalServerError, "integrity check failed")
		default:
			writeError(w, http.StatusInternalServerError, "download failed")
		}
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleMetadataList(w http.ResponseWriter, r *http.Request) {
	keys, err := s.kv.KeysByPrefix(r.Context(), filemeta.KeyPrefix)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list metadata")
		return
	}

	files := make([]*filemeta.FileMetadata, 0, len(keys))
	for _, key := range keys {
		raw, found, err := s.kv.Get(r.Context(), key)
		if err != nil || !found {
			continue
		}
		meta, err := filemeta.Unmarshal(raw)
		if err != nil {
			continue
		}
		files = append(files, meta)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"totalFiles": len(files),
		"files":      files,
	})
}

func (s *Server) handleMetadataOne(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["fileId"]

	raw, found, err := s.kv.Get(r.Context(), filemeta.Key(fileID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load metadata")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	meta, err := filemeta.Unmarshal(raw)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to parse metadata")
		return
	}

	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"master": s.masterID,
		"leader": s.leader.AmILeader(),
	})
}

type nodeStatusView struct {
	URL              string `json:"url"`
	Alive            bool   `json:"alive"`
	IsInBlackout     *bool  `json:"isInBlackout,omitempty"`
	NextBlackoutInMs *int64 `json:"nextBlackoutInMs,omitempty"`
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodeURLs := s.registry.Nodes()
	views := make([]nodeStatusView, len(nodeURLs))

	g, gctx := errgroup.WithContext(r.Context())
	for i, nodeURL := range nodeURLs {
		i, nodeURL := i, nodeURL
		g.Go(func() error {
			alive, _ := s.registry.IsAlive(gctx, nodeURL)
			view := nodeStatusView{URL: nodeURL, Alive: alive}

			st, err := s.status.OrbitalStatus(gctx, nodeURL)
			if err == nil {
				blackout := st.IsInBlackout
				next := st.NextBlackoutInMs
				view.IsInBlackout = &blackout
				view.NextBlackoutInMs = &next
			}

			views[i] = view
			return nil
		})
	}
	_ = g.Wait()

	writeJSON(w, http.StatusOK, views)
}

type cachedFileView struct {
	FileID   string  `json:"fileId"`
	Filename string  `json:"filename"`
	SizeMB   float64 `json:"sizeMB"`
}

func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	var files []cachedFileView
	s.cache.ForEach(func(fileID string, entry *filecache.Entry) {
		files = append(files, cachedFileView{
			FileID:   fileID,
			Filename: entry.Filename,
			SizeMB:   float64(len(entry.Buffer)) / (1 << 20),
		})
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"totalCached": len(files),
		"files":       files,
	})
}
