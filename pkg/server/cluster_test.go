package server

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// stoppableHandler lets tests take a node off the network without tearing
// down its engine, simulating a crashed-and-restarted process.
type stoppableHandler struct {
	mu      sync.Mutex
	handler http.Handler
	down    bool
}

func (sh *stoppableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sh.mu.Lock()
	handler, down := sh.handler, sh.down
	sh.mu.Unlock()
	if down || handler == nil {
		http.Error(w, "node down", http.StatusServiceUnavailable)
		return
	}
	handler.ServeHTTP(w, r)
}

func (sh *stoppableHandler) setDown(down bool) {
	sh.mu.Lock()
	sh.down = down
	sh.mu.Unlock()
}

type testNode struct {
	srv   *Server
	url   string
	proxy *stoppableHandler
}

// startCluster brings up n nodes sharing one fixed topology, each behind a
// stoppable proxy.
func startCluster(t *testing.T, n int) []*testNode {
	t.Helper()

	nodes := make([]*testNode, n)
	urls := make([]string, n)
	for i := range nodes {
		proxy := &stoppableHandler{}
		ts := httptest.NewServer(proxy)
		t.Cleanup(ts.Close)
		nodes[i] = &testNode{url: ts.URL, proxy: proxy}
		urls[i] = ts.URL
	}

	for i, node := range nodes {
		config := DefaultConfig()
		config.DataDir = t.TempDir()
		config.NodeURL = urls[i]
		config.ClusterURLs = urls
		config.EnableLogging = false
		config.RequestTimeout = 4 * time.Second

		srv, err := New(config)
		if err != nil {
			t.Fatalf("failed to create node %d: %v", i, err)
		}
		t.Cleanup(func() { srv.Close() })
		node.srv = srv
		node.proxy.mu.Lock()
		node.proxy.handler = srv.Handler()
		node.proxy.mu.Unlock()
	}
	return nodes
}

func entity(node *testNode, key, replicas string) string {
	url := node.url + "/v0/entity?id=" + key
	if replicas != "" {
		url += "&replicas=" + replicas
	}
	return url
}

func TestOverlapQuorumReadYourWrite(t *testing.T) {
	nodes := startCluster(t, 3)
	key := "overlap-key"

	resp := doRequest(t, http.MethodPut, entity(nodes[0], key, "2/3"), []byte("value"), nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("put: expected 201, got %d", resp.StatusCode)
	}

	// With ack+ack > from, every other node must already see the write
	for _, node := range nodes[1:] {
		resp := doRequest(t, http.MethodGet, entity(node, key, "2/3"), nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get from %s: expected 200, got %d", node.url, resp.StatusCode)
		}
		if body := readBody(t, resp); !bytes.Equal(body, []byte("value")) {
			t.Fatalf("get from %s: expected value, got %q", node.url, body)
		}
	}
}

func TestDefaultQuorumApplied(t *testing.T) {
	nodes := startCluster(t, 3)
	key := "default-quorum"

	// No replicas clause: from=3, ack=2
	resp := doRequest(t, http.MethodPut, entity(nodes[0], key, ""), []byte("v"), nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("put: expected 201, got %d", resp.StatusCode)
	}
	resp = doRequest(t, http.MethodGet, entity(nodes[2], key, ""), nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
}

func TestMissedWriteHealsViaQuorum(t *testing.T) {
	nodes := startCluster(t, 3)
	key := "healing-key"

	// Node 2 misses the write
	nodes[2].proxy.setDown(true)
	resp := doRequest(t, http.MethodPut, entity(nodes[0], key, "2/3"), []byte("healed"), nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("put with one node down: expected 201, got %d", resp.StatusCode)
	}

	// After it comes back, a quorum read through it still finds the value
	nodes[2].proxy.setDown(false)
	resp = doRequest(t, http.MethodGet, entity(nodes[2], key, "2/3"), nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get after rejoin: expected 200, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); !bytes.Equal(body, []byte("healed")) {
		t.Fatalf("expected healed, got %q", body)
	}
}

func TestQuorumUnreachable(t *testing.T) {
	nodes := startCluster(t, 3)
	key := "stranded-key"

	nodes[1].proxy.setDown(true)
	nodes[2].proxy.setDown(true)

	if resp := doRequest(t, http.MethodGet, entity(nodes[0], key, "2/3"), nil, nil); resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("get: expected 504, got %d", resp.StatusCode)
	}
	if resp := doRequest(t, http.MethodPut, entity(nodes[0], key, "2/3"), []byte("v"), nil); resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("put: expected 504, got %d", resp.StatusCode)
	}
	if resp := doRequest(t, http.MethodDelete, entity(nodes[0], key, "2/3"), nil, nil); resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("delete: expected 504, got %d", resp.StatusCode)
	}
}

func TestDeleteThenRecreate(t *testing.T) {
	nodes := startCluster(t, 3)
	key := "phoenix"

	if resp := doRequest(t, http.MethodPut, entity(nodes[0], key, "3/3"), []byte("v1"), nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("put v1: expected 201, got %d", resp.StatusCode)
	}
	time.Sleep(10 * time.Millisecond) // let the wall clock tick
	if resp := doRequest(t, http.MethodDelete, entity(nodes[0], key, "3/3"), nil, nil); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("delete: expected 202, got %d", resp.StatusCode)
	}
	time.Sleep(10 * time.Millisecond)

	// Node 1 misses the recreate
	nodes[1].proxy.setDown(true)
	if resp := doRequest(t, http.MethodPut, entity(nodes[2], key, "2/3"), []byte("v2"), nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("put v2: expected 201, got %d", resp.StatusCode)
	}
	nodes[1].proxy.setDown(false)

	resp := doRequest(t, http.MethodGet, entity(nodes[0], key, "3/3"), nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); !bytes.Equal(body, []byte("v2")) {
		t.Fatalf("expected v2 to win, got %q", body)
	}
}

func TestLastWriteWinsAcrossCoordinators(t *testing.T) {
	nodes := startCluster(t, 3)
	key := "contested"

	if resp := doRequest(t, http.MethodPut, entity(nodes[0], key, "3/3"), []byte("first"), nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("put first: expected 201, got %d", resp.StatusCode)
	}
	time.Sleep(10 * time.Millisecond)
	if resp := doRequest(t, http.MethodPut, entity(nodes[1], key, "3/3"), []byte("second"), nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("put second: expected 201, got %d", resp.StatusCode)
	}

	for _, node := range nodes {
		resp := doRequest(t, http.MethodGet, entity(node, key, "2/3"), nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("get from %s: expected 200, got %d", node.url, resp.StatusCode)
		}
		if body := readBody(t, resp); !bytes.Equal(body, []byte("second")) {
			t.Fatalf("get from %s: expected second, got %q", node.url, body)
		}
	}
}

func TestShardingAtReplicationFactorOne(t *testing.T) {
	nodes := startCluster(t, 2)

	// With from=1 each key lives on exactly one node
	const keys = 20
	for i := 0; i < keys; i++ {
		key := fmt.Sprintf("rf1-key-%d", i)
		if resp := doRequest(t, http.MethodPut, entity(nodes[0], key, "1/1"), []byte("v"), nil); resp.StatusCode != http.StatusCreated {
			t.Fatalf("put %s: expected 201, got %d", key, resp.StatusCode)
		}
	}

	owners := 0
	for i := 0; i < keys; i++ {
		key := fmt.Sprintf("rf1-key-%d", i)
		found := 0
		for _, node := range nodes {
			rec, err := node.srv.Engine().Get([]byte(key))
			if err != nil {
				t.Fatalf("engine get failed: %v", err)
			}
			if rec != nil {
				found++
			}
		}
		if found != 1 {
			t.Fatalf("key %s stored on %d nodes, expected exactly 1", key, found)
		}
		owners++
	}
	if owners != keys {
		t.Fatalf("expected %d owned keys, got %d", keys, owners)
	}
}
