package clusterlog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/witnz/clusterlog/internal/logging"
	"github.com/witnz/clusterlog/internal/storage"
)

// ChannelName is the log channel cluster information is written to.
const ChannelName = "cluster"

type Database interface {
	Name() string
	Tables(ctx context.Context) ([]storage.TableInfo, error)
}

type MaintenanceService interface {
	FullServerStatus(ctx context.Context) (string, error)
	ProfilerStatistics(ctx context.Context) (map[string]string, error)
}

// Reporter dumps table row counts, HA status and profiler statistics to the
// cluster log channel. It runs as a scheduled task.
type Reporter struct {
	databases   []Database
	maintenance MaintenanceService
	logger      *slog.Logger
	channel     *slog.Logger
}

func NewReporter(databases []Database, maintenance MaintenanceService, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Reporter{
		databases:   databases,
		maintenance: maintenance,
		logger:      logger,
		channel:     logging.Channel(logger, ChannelName),
	}
}

func (r *Reporter) Name() string {
	return "cluster-log"
}

func (r *Reporter) Message() string {
	return "Log cluster information"
}

func (r *Reporter) Execute(ctx context.Context) error {
	return r.Report(ctx)
}

// Report does nothing unless the cluster channel is enabled at info.
// Collector errors are returned as is; output logged before the failure
// stays logged.
func (r *Reporter) Report(ctx context.Context) error {
	if !r.channel.Enabled(ctx, slog.LevelInfo) {
		r.logger.DebugContext(ctx, "Logging for cluster information is not enabled by logging level")
		return nil
	}

	for _, db := range r.databases {
		if err := r.logTable(ctx, db); err != nil {
			return err
		}
	}

	if err := r.logHAStatus(ctx); err != nil {
		return err
	}

	return r.logProfilerStatistics(ctx)
}

func (r *Reporter) logTable(ctx context.Context, db Database) error {
	tables, err := db.Tables(ctx)
	if err != nil {
		return fmt.Errorf("failed to read tables of %s: %w", db.Name(), err)
	}

	r.channel.InfoContext(ctx, FormatTable(db.Name(), tables), "database", db.Name())
	return nil
}

func (r *Reporter) logHAStatus(ctx context.Context) error {
	status, err := r.maintenance.FullServerStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to read HA status: %w", err)
	}

	r.channel.InfoContext(ctx, status)
	return nil
}

func (r *Reporter) logProfilerStatistics(ctx context.Context) error {
	stats, err := r.maintenance.ProfilerStatistics(ctx)
	if err != nil {
		return fmt.Errorf("failed to read profiler statistics: %w", err)
	}

	r.channel.InfoContext(ctx, FormatProfilerStatistics(stats))
	return nil
}
