package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/raft"
)

// LeadershipRotator is a scheduled task that hands leadership to another
// voter so no single node stays leader indefinitely.
type LeadershipRotator struct {
	node   *Node
	logger *slog.Logger
}

func NewLeadershipRotator(node *Node, logger *slog.Logger) *LeadershipRotator {
	if logger == nil {
		logger = slog.Default()
	}

	return &LeadershipRotator{
		node:   node,
		logger: logger,
	}
}

func (r *LeadershipRotator) Name() string {
	return "leadership-transfer"
}

func (r *LeadershipRotator) Message() string {
	return "Rotate raft leadership"
}

func (r *LeadershipRotator) Execute(ctx context.Context) error {
	if r.node.raft == nil {
		r.logger.Debug("Raft not initialized, skipping leadership transfer")
		return nil
	}

	if r.node.raft.State() != raft.Leader {
		r.logger.Debug("Not the leader, skipping leadership transfer")
		return nil
	}

	currentLeader := r.node.config.NodeID
	r.logger.Info("Initiating leadership transfer", "current_leader", currentLeader)

	future := r.node.raft.LeadershipTransfer()
	if err := future.Error(); err != nil {
		return fmt.Errorf("leadership transfer failed: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.node.WaitForLeader(waitCtx); err != nil {
		return fmt.Errorf("no leader after transfer: %w", err)
	}

	r.logger.Info("Leadership transferred successfully",
		"old_leader", currentLeader,
		"new_leader", r.node.LeaderID(),
	)

	return nil
}
