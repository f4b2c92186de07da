package consensus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/witnz/clusterlog/internal/storage"
)

type clusterMember struct {
	node  *Node
	store *storage.Storage
}

func startCluster(t *testing.T, basePort int) []clusterMember {
	t.Helper()

	ids := []string{"node1", "node2", "node3"}
	addrs := map[string]string{}
	for i, id := range ids {
		addrs[id] = fmt.Sprintf("127.0.0.1:%d", basePort+i)
	}

	members := make([]clusterMember, 0, len(ids))
	for i, id := range ids {
		peers := map[string]string{}
		for peer, addr := range addrs {
			if peer != id {
				peers[peer] = addr
			}
		}

		store := openStore(t, "component")
		node, err := NewNode(&NodeConfig{
			NodeID:    id,
			BindAddr:  addrs[id],
			DataDir:   t.TempDir(),
			Bootstrap: i == 0,
			PeerAddrs: peers,
		}, nil, store)
		if err != nil {
			t.Fatalf("Failed to create %s: %v", id, err)
		}
		members = append(members, clusterMember{node: node, store: store})
	}

	ctx := context.Background()

	if err := members[0].node.Start(ctx); err != nil {
		t.Fatalf("Failed to start node1: %v", err)
	}
	t.Cleanup(func() { members[0].node.Stop() })

	time.Sleep(2 * time.Second)

	for _, m := range members[1:] {
		if err := m.node.Start(ctx); err != nil {
			t.Fatalf("Failed to start %s: %v", m.node.ID(), err)
		}
		node := m.node
		t.Cleanup(func() { node.Stop() })
	}

	time.Sleep(5 * time.Second)
	return members
}

func TestThreeNodeCluster(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping cluster test in short mode")
	}

	members := startCluster(t, 17001)

	leader := members[0].node.Leader()
	if leader == "" {
		t.Fatal("node1 has no leader")
	}
	for _, m := range members[1:] {
		if m.node.Leader() != leader {
			t.Errorf("Leader mismatch: node1=%s, %s=%s", leader, m.node.ID(), m.node.Leader())
		}
	}

	var leaderNode *Node
	for _, m := range members {
		if m.node.IsLeader() {
			leaderNode = m.node
		}
	}
	if leaderNode == nil {
		t.Fatal("No leader node found")
	}

	if err := leaderNode.Put(context.Background(), "component", "asset", "a1", []byte("jar")); err != nil {
		t.Fatalf("Failed to apply log: %v", err)
	}

	time.Sleep(2 * time.Second)

	for _, m := range members {
		value, err := m.store.Get("asset", "a1")
		if err != nil {
			t.Fatalf("Failed to read replicated row on %s: %v", m.node.ID(), err)
		}
		if string(value) != "jar" {
			t.Errorf("%s value mismatch: got %s, want jar", m.node.ID(), value)
		}
	}
}

func TestClusterLeaderElection(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping cluster test in short mode")
	}

	members := startCluster(t, 18001)

	leaderCount := 0
	for _, m := range members {
		if m.node.IsLeader() {
			leaderCount++
		}
	}

	if leaderCount != 1 {
		t.Errorf("Expected exactly 1 leader, got %d", leaderCount)
	}

	servers, err := members[0].node.Servers()
	if err != nil {
		t.Fatalf("Servers failed: %v", err)
	}
	if len(servers) != 3 {
		t.Errorf("Expected 3 servers in configuration, got %d", len(servers))
	}
}
