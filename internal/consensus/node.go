package consensus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/witnz/clusterlog/internal/storage"
)

const (
	LogStoreBolt       = "bolt"
	LogStoreRaftBoltDB = "raft-boltdb"

	defaultApplyTimeout = 10 * time.Second
)

type NodeConfig struct {
	NodeID        string
	BindAddr      string
	DataDir       string
	Bootstrap     bool
	PeerAddrs     map[string]string
	LogStore      string
	JoinRetries   int
	JoinRetryWait time.Duration
}

// logStore is satisfied by both the native BoltStore and raft-boltdb.
type logStore interface {
	raft.LogStore
	raft.StableStore
	io.Closer
}

type Node struct {
	config *NodeConfig
	raft   *raft.Raft
	fsm    *FSM
	store  logStore
	logger *slog.Logger
}

func NewNode(cfg *NodeConfig, logger *slog.Logger, stores ...*storage.Storage) (*Node, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("node id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		config: cfg,
		fsm:    NewFSM(stores...),
		logger: logger.With("node", cfg.NodeID),
	}, nil
}

func (n *Node) ID() string {
	return n.config.NodeID
}

func (n *Node) openLogStore(raftDir string) (logStore, error) {
	switch n.config.LogStore {
	case LogStoreRaftBoltDB:
		store, err := raftboltdb.NewBoltStore(filepath.Join(raftDir, "raft.db"))
		if err != nil {
			return nil, fmt.Errorf("failed to create raft-boltdb store: %w", err)
		}
		return store, nil
	case "", LogStoreBolt:
		return NewBoltStore(filepath.Join(raftDir, "raft-log.db"))
	default:
		return nil, fmt.Errorf("unknown log store: %s", n.config.LogStore)
	}
}

func (n *Node) Start(ctx context.Context) error {
	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(n.config.NodeID)

	raftDir := filepath.Join(n.config.DataDir, "raft")
	if err := os.MkdirAll(raftDir, 0755); err != nil {
		return fmt.Errorf("failed to create raft directory: %w", err)
	}

	store, err := n.openLogStore(raftDir)
	if err != nil {
		return err
	}
	n.store = store

	snapshotStore, err := raft.NewFileSnapshotStore(raftDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create snapshot store: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", n.config.BindAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve address: %w", err)
	}

	transport, err := raft.NewTCPTransport(n.config.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	ra, err := raft.NewRaft(raftConfig, n.fsm, store, store, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("failed to create raft: %w", err)
	}
	n.raft = ra

	if n.config.Bootstrap {
		hasState, err := raft.HasExistingState(store, store, snapshotStore)
		if err != nil {
			return fmt.Errorf("failed to check existing state: %w", err)
		}

		if !hasState {
			servers := []raft.Server{
				{
					ID:      raftConfig.LocalID,
					Address: transport.LocalAddr(),
				},
			}

			for peerID, peerAddr := range n.config.PeerAddrs {
				servers = append(servers, raft.Server{
					ID:      raft.ServerID(peerID),
					Address: raft.ServerAddress(peerAddr),
				})
			}

			future := ra.BootstrapCluster(raft.Configuration{Servers: servers})
			if err := future.Error(); err != nil {
				return fmt.Errorf("failed to bootstrap cluster: %w", err)
			}
			n.logger.Info("Bootstrapped raft cluster", "servers", len(servers))
		}
	} else if len(n.config.PeerAddrs) > 0 {
		if err := n.waitForMembership(ctx); err != nil {
			return fmt.Errorf("failed to wait for leader: %w", err)
		}
	}

	return nil
}

func (n *Node) waitForMembership(ctx context.Context) error {
	retries := n.config.JoinRetries
	if retries == 0 {
		retries = 30
	}
	retryWait := n.config.JoinRetryWait
	if retryWait == 0 {
		retryWait = 1 * time.Second
	}

	for i := 0; i < retries; i++ {
		if n.raft.Leader() != "" {
			future := n.raft.GetConfiguration()
			if err := future.Error(); err == nil {
				for _, server := range future.Configuration().Servers {
					if server.ID == raft.ServerID(n.config.NodeID) {
						return nil
					}
				}
			}
		}

		select {
		case <-time.After(retryWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("timeout waiting for leader after %d retries", retries)
}

// WaitForLeader blocks until any leader is known or ctx is done.
func (n *Node) WaitForLeader(ctx context.Context) error {
	if n.raft == nil {
		return ErrNotInitialized
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if addr, _ := n.raft.LeaderWithID(); addr != "" {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (n *Node) Stop() error {
	if n.raft != nil {
		future := n.raft.Shutdown()
		if err := future.Error(); err != nil {
			return fmt.Errorf("failed to shutdown raft: %w", err)
		}
	}
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			return fmt.Errorf("failed to close log store: %w", err)
		}
		n.store = nil
	}
	return nil
}

func (n *Node) ApplyLog(ctx context.Context, entry *LogEntry) error {
	if n.raft == nil {
		return ErrNotInitialized
	}
	if n.raft.State() != raft.Leader {
		return ErrNotLeader
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	timeout := defaultApplyTimeout
	if deadline, ok := ctx.Deadline(); ok {
		// raft treats a non-positive timeout as no timeout at all
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return context.DeadlineExceeded
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	future := n.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("failed to apply log: %w", err)
	}
	if resp, ok := future.Response().(error); ok && resp != nil {
		return fmt.Errorf("failed to apply log: %w", resp)
	}

	return nil
}

// Put replicates a row write to every node of the cluster.
func (n *Node) Put(ctx context.Context, database, table, key string, value []byte) error {
	return n.ApplyLog(ctx, &LogEntry{
		Type:      LogEntryPut,
		Database:  database,
		Table:     table,
		Key:       key,
		Value:     value,
		Timestamp: time.Now(),
	})
}

func (n *Node) Delete(ctx context.Context, database, table, key string) error {
	return n.ApplyLog(ctx, &LogEntry{
		Type:      LogEntryDelete,
		Database:  database,
		Table:     table,
		Key:       key,
		Timestamp: time.Now(),
	})
}

func (n *Node) IsLeader() bool {
	return n.raft != nil && n.raft.State() == raft.Leader
}

func (n *Node) State() string {
	if n.raft == nil {
		return "not initialized"
	}
	return n.raft.State().String()
}

func (n *Node) Leader() string {
	if n.raft == nil {
		return ""
	}
	addr, _ := n.raft.LeaderWithID()
	return string(addr)
}

func (n *Node) LeaderID() string {
	if n.raft == nil {
		return ""
	}
	_, id := n.raft.LeaderWithID()
	return string(id)
}

func (n *Node) Servers() ([]ServerInfo, error) {
	if n.raft == nil {
		return nil, ErrNotInitialized
	}

	future := n.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}

	leaderID := n.LeaderID()
	servers := make([]ServerInfo, 0, len(future.Configuration().Servers))
	for _, s := range future.Configuration().Servers {
		servers = append(servers, ServerInfo{
			ID:       string(s.ID),
			Address:  string(s.Address),
			Suffrage: s.Suffrage.String(),
			Leader:   string(s.ID) == leaderID,
		})
	}
	return servers, nil
}

func (n *Node) AddPeer(id, addr string) error {
	if n.raft == nil {
		return ErrNotInitialized
	}

	future := n.raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, 0)
	return future.Error()
}

func (n *Node) RemovePeer(id string) error {
	if n.raft == nil {
		return ErrNotInitialized
	}

	future := n.raft.RemoveServer(raft.ServerID(id), 0, 0)
	return future.Error()
}

func (n *Node) Stats() map[string]string {
	if n.raft == nil {
		return map[string]string{"state": "not initialized"}
	}
	return n.raft.Stats()
}

func (n *Node) TransferLeadership() error {
	if n.raft == nil {
		return ErrNotInitialized
	}

	if n.raft.State() != raft.Leader {
		return fmt.Errorf("cannot transfer: %w", ErrNotLeader)
	}

	future := n.raft.LeadershipTransfer()
	if err := future.Error(); err != nil {
		return fmt.Errorf("leadership transfer failed: %w", err)
	}

	return nil
}
