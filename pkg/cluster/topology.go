package cluster

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// Topology maps every key to an ordered replica preference list over a
// node set that is fixed at construction. Rendezvous (highest-random-
// weight) hashing makes the order deterministic across nodes holding the
// same list, roughly uniform, and total, so the first n entries always
// form the replica set for a request with from=n.
type Topology struct {
	nodes []string
	self  string
}

// NewTopology builds a topology from the cluster's node URLs. The list
// must contain self. Trailing slashes are normalized away so the same URL
// written differently still names one node.
func NewTopology(nodes []string, self string) (*Topology, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("cluster topology is empty")
	}

	self = normalizeURL(self)
	normalized := make([]string, 0, len(nodes))
	seen := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		url := normalizeURL(node)
		if url == "" {
			return nil, fmt.Errorf("empty node URL in topology")
		}
		if seen[url] {
			return nil, fmt.Errorf("duplicate node URL in topology: %s", url)
		}
		seen[url] = true
		normalized = append(normalized, url)
	}
	if !seen[self] {
		return nil, fmt.Errorf("node %s is not part of the topology", self)
	}
	sort.Strings(normalized)

	return &Topology{nodes: normalized, self: self}, nil
}

func normalizeURL(url string) string {
	return strings.TrimRight(strings.TrimSpace(url), "/")
}

// Size returns the number of nodes in the cluster
func (t *Topology) Size() int { return len(t.nodes) }

// Self returns this node's URL
func (t *Topology) Self() string { return t.self }

// IsSelf reports whether node names this node
func (t *Topology) IsSelf(node string) bool { return node == t.self }

// Nodes returns a copy of the node list
func (t *Topology) Nodes() []string {
	out := make([]string, len(t.nodes))
	copy(out, t.nodes)
	return out
}

// ReplicasFor returns the first n nodes of the preference order for key.
// Each node is scored by hashing node-plus-key with FNV-1a and passing the
// sum through a 64-bit finalizer, so URLs that differ in one character
// still get independent scores; nodes are ranked by descending score with
// URL order breaking ties.
func (t *Topology) ReplicasFor(key []byte, n int) []string {
	if n > len(t.nodes) {
		n = len(t.nodes)
	}

	type ranked struct {
		node  string
		score uint64
	}
	scores := make([]ranked, len(t.nodes))
	for i, node := range t.nodes {
		h := fnv.New64a()
		h.Write([]byte(node))
		h.Write(key)
		score := h.Sum64()
		score ^= score >> 33
		score *= 0xff51afd7ed558ccd
		score ^= score >> 33
		score *= 0xc4ceb9fe1a85ec53
		score ^= score >> 33
		scores[i] = ranked{node: node, score: score}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].node < scores[j].node
	})

	replicas := make([]string, n)
	for i := range replicas {
		replicas[i] = scores[i].node
	}
	return replicas
}
