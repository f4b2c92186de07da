package maintenance

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/witnz/clusterlog/internal/consensus"
	"github.com/witnz/clusterlog/internal/pgdb"
)

// Cluster is the view of the raft node the service reports on.
type Cluster interface {
	ID() string
	State() string
	Leader() string
	LeaderID() string
	Stats() map[string]string
	Servers() ([]consensus.ServerInfo, error)
}

type StatsSource interface {
	Name() string
	Stats() map[string]string
}

type ReplicationSource interface {
	Name() string
	ReplicationStatus(ctx context.Context) (*pgdb.ReplicationStatus, error)
}

// Service answers HA status and profiler statistics queries for one node.
type Service struct {
	nodeID    string
	cluster   Cluster
	databases []StatsSource
	replicas  []ReplicationSource
	host      func(ctx context.Context) map[string]string
}

// NewService builds a service for nodeID. cluster may be nil when the node
// runs without raft.
func NewService(nodeID string, cluster Cluster, databases []StatsSource, replicas []ReplicationSource) *Service {
	return &Service{
		nodeID:    nodeID,
		cluster:   cluster,
		databases: databases,
		replicas:  replicas,
		host:      collectHostStats,
	}
}

func (s *Service) FullServerStatus(ctx context.Context) (string, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "Node: %s\n", s.nodeID)

	if s.cluster == nil {
		b.WriteString("Raft: disabled (single node)\n")
	} else {
		stats := s.cluster.Stats()
		fmt.Fprintf(&b, "Raft state: %s\n", s.cluster.State())

		if leaderID := s.cluster.LeaderID(); leaderID != "" {
			fmt.Fprintf(&b, "Leader: %s (%s)\n", leaderID, s.cluster.Leader())
		} else {
			b.WriteString("Leader: none\n")
		}
		fmt.Fprintf(&b, "Term: %s\n", valueOr(stats, "term"))
		fmt.Fprintf(&b, "Last log index: %s\n", valueOr(stats, "last_log_index"))
		fmt.Fprintf(&b, "Commit index: %s\n", valueOr(stats, "commit_index"))
		fmt.Fprintf(&b, "Applied index: %s\n", valueOr(stats, "applied_index"))

		servers, err := s.cluster.Servers()
		if err != nil {
			return "", fmt.Errorf("failed to read cluster servers: %w", err)
		}
		b.WriteString("Servers:\n")
		for _, srv := range servers {
			fmt.Fprintf(&b, "  %s %s %s", srv.ID, srv.Address, srv.Suffrage)
			if srv.Leader {
				b.WriteString(" (leader)")
			}
			b.WriteString("\n")
		}
	}

	for _, r := range s.replicas {
		status, err := r.ReplicationStatus(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to read replication status of %s: %w", r.Name(), err)
		}
		fmt.Fprintf(&b, "PostgreSQL %s: %s\n", r.Name(), status)
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

// ProfilerStatistics merges raft, database, runtime and host counters into a
// single map with dotted prefixes.
func (s *Service) ProfilerStatistics(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := make(map[string]string)

	if s.cluster != nil {
		for k, v := range s.cluster.Stats() {
			result["raft."+k] = v
		}
	}

	for _, db := range s.databases {
		for k, v := range db.Stats() {
			result["db."+db.Name()+"."+k] = v
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	result["runtime.goroutines"] = strconv.Itoa(runtime.NumGoroutine())
	result["runtime.heap_alloc_bytes"] = strconv.FormatUint(ms.HeapAlloc, 10)
	result["runtime.heap_objects"] = strconv.FormatUint(ms.HeapObjects, 10)
	result["runtime.num_gc"] = strconv.FormatUint(uint64(ms.NumGC), 10)

	if s.host != nil {
		for k, v := range s.host(ctx) {
			result["host."+k] = v
		}
	}

	return result, nil
}

func valueOr(m map[string]string, key string) string {
	if v, ok := m[key]; ok && v != "" {
		return v
	}
	return "unknown"
}
