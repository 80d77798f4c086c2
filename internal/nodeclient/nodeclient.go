// Package nodeclient is the HTTP client for the storage node's blob
// server interface (spec.md section 6.2): POST /store, GET /chunk/:id,
// DELETE /chunk/:id, GET /orbital-status.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// OrbitalStatus is the decoded response of GET /orbital-status.
type OrbitalStatus struct {
	NodeID           string `json:"nodeId"`
	IsInBlackout     bool   `json:"isInBlackout"`
	NextBlackoutInMs int64  `json:"nextBlackoutInMs"`
}

type storeRequest struct {
	ChunkID string `json:"chunkId"`
	Data    string `json:"data"`
}

type storeResponse struct {
	Status string `json:"status"`
	Node   string `json:"node"`
}

type chunkResponse struct {
	ChunkID string `json:"chunkId"`
	Data    string `json:"data"`
}

// Client issues requests against the configured storage node pool,
// keeping one *http.Client per node URL the way the teacher's
// HTTPCommunicator keeps one per peer address. Every request is bounded
// by timeout, per spec.md section 5: a storage node that accepts a
// connection but never responds must not stall a caller forever.
type Client struct {
	mu      sync.Mutex
	clients map[string]*http.Client
	timeout time.Duration
}

// New builds a node client whose every request is bounded by timeout;
// per-node http.Client instances are created lazily on first use.
func New(timeout time.Duration) *Client {
	return &Client{clients: make(map[string]*http.Client), timeout: timeout}
}

func (c *Client) httpClient(nodeURL string) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hc, ok := c.clients[nodeURL]; ok {
		return hc
	}
	hc := &http.Client{Timeout: c.timeout}
	c.clients[nodeURL] = hc
	return hc
}

func statusError(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusServiceUnavailable:
		return ErrNodeInBlackout
	case http.StatusNotFound:
		return ErrChunkNotFound
	default:
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
}

// Store POSTs one chunk's bytes to nodeURL.
func (c *Client) Store(ctx context.Context, nodeURL, chunkID string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(storeRequest{
		ChunkID: chunkID,
		Data:    base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return fmt.Errorf("marshal store request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, nodeURL+"/store", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build store request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient(nodeURL).Do(req)
	if err != nil {
		return fmt.Errorf("send store request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	var out storeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode store response: %w", err)
	}
	return nil
}

// Fetch GETs one chunk's bytes from nodeURL. Callers needing the
// tighter per-attempt failover timeout of spec.md section 4.4 (2s) can
// still wrap ctx further before calling; this bound is the backstop
// that applies regardless of caller.
func (c *Client) Fetch(ctx context.Context, nodeURL, chunkID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nodeURL+"/chunk/"+chunkID, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}

	resp, err := c.httpClient(nodeURL).Do(req)
	if err != nil {
		return nil, fmt.Errorf("send fetch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var out chunkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode fetch response: %w", err)
	}

	data, err := base64.StdEncoding.DecodeString(out.Data)
	if err != nil {
		return nil, fmt.Errorf("decode chunk payload: %w", err)
	}
	return data, nil
}

// Delete removes one chunk from nodeURL. Idempotent on the node side.
func (c *Client) Delete(ctx context.Context, nodeURL, chunkID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, nodeURL+"/chunk/"+chunkID, nil)
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}

	resp, err := c.httpClient(nodeURL).Do(req)
	if err != nil {
		return fmt.Errorf("send delete request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

// OrbitalStatus GETs nodeURL's blackout schedule.
func (c *Client) OrbitalStatus(ctx context.Context, nodeURL string) (OrbitalStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nodeURL+"/orbital-status", nil)
	if err != nil {
		return OrbitalStatus{}, fmt.Errorf("build orbital-status request: %w", err)
	}

	resp, err := c.httpClient(nodeURL).Do(req)
	if err != nil {
		return OrbitalStatus{}, fmt.Errorf("send orbital-status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return OrbitalStatus{}, statusError(resp)
	}

	var out OrbitalStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return OrbitalStatus{}, fmt.Errorf("decode orbital-status response: %w", err)
	}
	return out, nil
}
