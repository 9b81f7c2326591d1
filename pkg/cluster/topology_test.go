package cluster

import (
	"fmt"
	"testing"
)

func testNodes() []string {
	return []string{
		"http://localhost:8080",
		"http://localhost:8081",
		"http://localhost:8082",
	}
}

func TestTopologyValidation(t *testing.T) {
	if _, err := NewTopology(nil, "http://localhost:8080"); err == nil {
		t.Fatal("empty topology should be rejected")
	}
	if _, err := NewTopology(testNodes(), "http://localhost:9999"); err == nil {
		t.Fatal("self outside the topology should be rejected")
	}
	if _, err := NewTopology([]string{"http://a", "http://a"}, "http://a"); err == nil {
		t.Fatal("duplicate nodes should be rejected")
	}
}

func TestTopologyNormalizesURLs(t *testing.T) {
	topo, err := NewTopology([]string{"http://localhost:8080/", " http://localhost:8081"}, "http://localhost:8080")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !topo.IsSelf("http://localhost:8080") {
		t.Fatal("trailing slash should not change node identity")
	}
}

func TestReplicasForDeterministic(t *testing.T) {
	nodes := testNodes()
	a, _ := NewTopology(nodes, nodes[0])
	b, _ := NewTopology(nodes, nodes[1])

	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		ra := a.ReplicasFor(key, 3)
		rb := b.ReplicasFor(key, 3)
		if len(ra) != 3 || len(rb) != 3 {
			t.Fatalf("expected 3 replicas, got %d/%d", len(ra), len(rb))
		}
		for j := range ra {
			if ra[j] != rb[j] {
				t.Fatalf("key %s: nodes disagree on replica order: %v vs %v", key, ra, rb)
			}
		}
	}
}

func TestReplicasForPrefixStability(t *testing.T) {
	topo, _ := NewTopology(testNodes(), testNodes()[0])

	// The replica set for from=n must be a prefix of the full order
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		full := topo.ReplicasFor(key, 3)
		for n := 1; n <= 3; n++ {
			part := topo.ReplicasFor(key, n)
			for j := 0; j < n; j++ {
				if part[j] != full[j] {
					t.Fatalf("replica list for n=%d is not a prefix of the full order", n)
				}
			}
		}
	}
}

func TestReplicasForDistribution(t *testing.T) {
	topo, _ := NewTopology(testNodes(), testNodes()[0])

	counts := make(map[string]int)
	const keys = 3000
	for i := 0; i < keys; i++ {
		primary := topo.ReplicasFor([]byte(fmt.Sprintf("key-%d", i)), 1)[0]
		counts[primary]++
	}

	// Rough uniformity: every node owns a meaningful share
	for node, n := range counts {
		if n < keys/6 {
			t.Fatalf("node %s owns only %d of %d keys", node, n, keys)
		}
	}
}

func TestReplicasForClampsToClusterSize(t *testing.T) {
	topo, _ := NewTopology(testNodes(), testNodes()[0])
	if got := topo.ReplicasFor([]byte("k"), 10); len(got) != 3 {
		t.Fatalf("expected 3 replicas, got %d", len(got))
	}
}

func TestParseQuorum(t *testing.T) {
	cases := []struct {
		in      string
		cluster int
		want    Quorum
		wantErr bool
	}{
		{"", 3, Quorum{Ack: 2, From: 3}, false},
		{"", 1, Quorum{Ack: 1, From: 1}, false},
		{"1/1", 3, Quorum{Ack: 1, From: 1}, false},
		{"2/3", 3, Quorum{Ack: 2, From: 3}, false},
		{"3/3", 3, Quorum{Ack: 3, From: 3}, false},
		{"0/3", 3, Quorum{}, true},
		{"2/1", 3, Quorum{}, true},
		{"2/4", 3, Quorum{}, true},
		{"abc", 3, Quorum{}, true},
		{"1/x", 3, Quorum{}, true},
		{"1", 3, Quorum{}, true},
		{"-1/2", 3, Quorum{}, true},
	}

	for _, tc := range cases {
		got, err := ParseQuorum(tc.in, tc.cluster)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%q: expected %v, got %v", tc.in, tc.want, got)
		}
	}
}

func TestReplicaStateNewer(t *testing.T) {
	absent := ReplicaState{}
	v1 := ReplicaState{Found: true, Timestamp: 1, Value: []byte("v1")}
	v2 := ReplicaState{Found: true, Timestamp: 2, Value: []byte("v2")}
	grave2 := ReplicaState{Found: true, Timestamp: 2, Tombstone: true}

	if absent.Newer(v1) {
		t.Fatal("absent never wins")
	}
	if !v1.Newer(absent) {
		t.Fatal("found beats absent")
	}
	if !v2.Newer(v1) || v1.Newer(v2) {
		t.Fatal("higher timestamp wins")
	}
	if !grave2.Newer(v2) {
		t.Fatal("tombstone wins a timestamp tie")
	}
	if v2.Newer(grave2) {
		t.Fatal("value must not beat tombstone at the same timestamp")
	}
}
