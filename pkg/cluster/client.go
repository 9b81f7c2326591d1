package cluster

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Wire headers for internal replica hops. These must stay bit-stable
// across the whole cluster.
const (
	// HeaderInternal marks a request as a replica hop: the receiver acts
	// on its local engine and does not re-replicate.
	HeaderInternal = "X-Internal"

	// HeaderTimestamp carries the coordinator-assigned write timestamp in
	// decimal milliseconds, and the chosen record's timestamp on GET
	// responses.
	HeaderTimestamp = "X-Timestamp"

	// HeaderTombstone marks a GET response whose newest record is a
	// tombstone.
	HeaderTombstone = "X-Tombstone"
)

// ReplicaState is one replica's view of a key: its newest record, a
// tombstone, or nothing at all (Found false).
type ReplicaState struct {
	Found     bool
	Tombstone bool
	Timestamp uint64
	Value     []byte
}

// Newer reports whether s wins over other under last-write-wins
// resolution. A tombstone beats a value at the same timestamp.
func (s ReplicaState) Newer(other ReplicaState) bool {
	if !s.Found {
		return false
	}
	if !other.Found {
		return true
	}
	if s.Timestamp != other.Timestamp {
		return s.Timestamp > other.Timestamp
	}
	return s.Tombstone && !other.Tombstone
}

// peerClient issues internal replica hops over a shared pooled transport,
// so handlers reuse connections instead of redialing every peer request.
type peerClient struct {
	http *http.Client
}

func newPeerClient() *peerClient {
	return &peerClient{
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func entityURL(node string, key []byte) string {
	return node + "/v0/entity?id=" + url.QueryEscape(string(key))
}

// get asks a peer for its newest record of key
func (c *peerClient) get(ctx context.Context, node string, key []byte) (ReplicaState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entityURL(node, key), nil)
	if err != nil {
		return ReplicaState{}, err
	}
	req.Header.Set(HeaderInternal, "true")

	resp, err := c.http.Do(req)
	if err != nil {
		return ReplicaState{}, fmt.Errorf("peer %s: %w", node, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		ts, err := parseTimestamp(resp.Header.Get(HeaderTimestamp))
		if err != nil {
			return ReplicaState{}, fmt.Errorf("peer %s: %w", node, err)
		}
		value, err := io.ReadAll(resp.Body)
		if err != nil {
			return ReplicaState{}, fmt.Errorf("peer %s: %w", node, err)
		}
		return ReplicaState{Found: true, Timestamp: ts, Value: value}, nil

	case http.StatusNotFound:
		if resp.Header.Get(HeaderTombstone) != "true" {
			return ReplicaState{}, nil // replica never saw the key
		}
		ts, err := parseTimestamp(resp.Header.Get(HeaderTimestamp))
		if err != nil {
			return ReplicaState{}, fmt.Errorf("peer %s: %w", node, err)
		}
		return ReplicaState{Found: true, Tombstone: true, Timestamp: ts}, nil

	default:
		return ReplicaState{}, fmt.Errorf("peer %s: unexpected status %d", node, resp.StatusCode)
	}
}

// put stores value on a peer at the coordinator-assigned timestamp
func (c *peerClient) put(ctx context.Context, node string, key, value []byte, ts uint64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, entityURL(node, key), bytes.NewReader(value))
	if err != nil {
		return err
	}
	req.Header.Set(HeaderInternal, "true")
	req.Header.Set(HeaderTimestamp, strconv.FormatUint(ts, 10))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("peer %s: %w", node, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("peer %s: unexpected status %d", node, resp.StatusCode)
	}
	return nil
}

// delete stores a tombstone on a peer at the coordinator-assigned timestamp
func (c *peerClient) delete(ctx context.Context, node string, key []byte, ts uint64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, entityURL(node, key), nil)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderInternal, "true")
	req.Header.Set(HeaderTimestamp, strconv.FormatUint(ts, 10))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("peer %s: %w", node, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("peer %s: unexpected status %d", node, resp.StatusCode)
	}
	return nil
}

func parseTimestamp(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("missing %s header", HeaderTimestamp)
	}
	ts, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s header: %w", HeaderTimestamp, err)
	}
	return ts, nil
}
