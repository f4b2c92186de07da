package clusterlog

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/witnz/clusterlog/internal/logging"
	"github.com/witnz/clusterlog/internal/storage"
)

type recordingHandler struct {
	mu      sync.Mutex
	records *[]slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, r)
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler { return h }

// newTestLogger returns a debug-level logger whose cluster channel runs at
// clusterLevel, plus the records it captured.
func newTestLogger(clusterLevel slog.Level) (*slog.Logger, *[]slog.Record) {
	records := &[]slog.Record{}
	handler := logging.NewChannelHandler(
		&recordingHandler{records: records},
		slog.LevelDebug,
		map[string]slog.Level{ChannelName: clusterLevel},
	)
	return slog.New(handler), records
}

type mockDatabase struct {
	name   string
	tables []storage.TableInfo
	err    error
	calls  int
}

func (m *mockDatabase) Name() string { return m.name }

func (m *mockDatabase) Tables(ctx context.Context) ([]storage.TableInfo, error) {
	m.calls++
	return m.tables, m.err
}

type mockMaintenance struct {
	status      string
	stats       map[string]string
	statusErr   error
	statsErr    error
	statusCalls int
	statsCalls  int
}

func (m *mockMaintenance) FullServerStatus(ctx context.Context) (string, error) {
	m.statusCalls++
	return m.status, m.statusErr
}

func (m *mockMaintenance) ProfilerStatistics(ctx context.Context) (map[string]string, error) {
	m.statsCalls++
	return m.stats, m.statsErr
}

func newMaintenance() *mockMaintenance {
	return &mockMaintenance{
		status: "Node: node1\nRaft state: Leader",
		stats:  map[string]string{"raft.term": "2", "runtime.goroutines": "12"},
	}
}

func messages(records []slog.Record, level slog.Level) []string {
	var out []string
	for _, r := range records {
		if r.Level == level {
			out = append(out, r.Message)
		}
	}
	return out
}

func TestReportDisabledChannel(t *testing.T) {
	logger, records := newTestLogger(logging.LevelOff)
	db := &mockDatabase{name: "config"}
	maint := newMaintenance()

	if err := NewReporter([]Database{db}, maint, logger).Report(context.Background()); err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	if db.calls != 0 || maint.statusCalls != 0 || maint.statsCalls != 0 {
		t.Errorf("no collector should run when disabled, got db=%d status=%d stats=%d",
			db.calls, maint.statusCalls, maint.statsCalls)
	}
	if infos := messages(*records, slog.LevelInfo); len(infos) != 0 {
		t.Errorf("expected no info output, got %v", infos)
	}
	debugs := messages(*records, slog.LevelDebug)
	if len(debugs) != 1 || !strings.Contains(debugs[0], "not enabled") {
		t.Errorf("expected a single debug note, got %v", debugs)
	}
}

func TestReportChannelAboveInfo(t *testing.T) {
	logger, _ := newTestLogger(slog.LevelWarn)
	maint := newMaintenance()

	if err := NewReporter(nil, maint, logger).Report(context.Background()); err != nil {
		t.Fatal(err)
	}
	if maint.statusCalls != 0 {
		t.Error("collectors should not run when the channel is above info")
	}
}

func TestReportEnabled(t *testing.T) {
	logger, records := newTestLogger(slog.LevelInfo)
	config := &mockDatabase{name: "config", tables: []storage.TableInfo{
		{Name: "repository", Count: 12},
		{Name: "Capability", Count: 3},
	}}
	component := &mockDatabase{name: "component", tables: []storage.TableInfo{
		{Name: "asset", Count: 100},
	}}
	maint := newMaintenance()

	if err := NewReporter([]Database{config, component}, maint, logger).Report(context.Background()); err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	infos := messages(*records, slog.LevelInfo)
	if len(infos) != 4 {
		t.Fatalf("expected 4 info records, got %d: %v", len(infos), infos)
	}

	if !strings.Contains(infos[0], "| config Database") {
		t.Errorf("first block should be config table, got:\n%s", infos[0])
	}
	capIdx := strings.Index(infos[0], "| Capability                     | 3               |")
	repoIdx := strings.Index(infos[0], "| repository                     | 12              |")
	if capIdx < 0 || repoIdx < 0 || capIdx > repoIdx {
		t.Errorf("config tables not sorted ignoring case:\n%s", infos[0])
	}
	if !strings.Contains(infos[1], "| component Database") || !strings.Contains(infos[1], "| asset") {
		t.Errorf("second block should be component table, got:\n%s", infos[1])
	}
	if infos[2] != maint.status {
		t.Errorf("expected HA status %q, got %q", maint.status, infos[2])
	}
	if infos[3] != "Profiler statistics:\n  raft.term: 2\n  runtime.goroutines: 12" {
		t.Errorf("unexpected profiler block %q", infos[3])
	}
}

func TestReportNoDatabases(t *testing.T) {
	logger, records := newTestLogger(slog.LevelInfo)
	maint := newMaintenance()

	if err := NewReporter(nil, maint, logger).Report(context.Background()); err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	infos := messages(*records, slog.LevelInfo)
	if len(infos) != 2 {
		t.Fatalf("expected HA status and profiler statistics only, got %v", infos)
	}
	for _, msg := range infos {
		if strings.Contains(msg, Separator) {
			t.Errorf("no table block expected, got:\n%s", msg)
		}
	}
}

func TestReportErrorsPropagate(t *testing.T) {
	boom := errors.New("boom")

	t.Run("database", func(t *testing.T) {
		logger, _ := newTestLogger(slog.LevelInfo)
		broken := &mockDatabase{name: "config", err: boom}
		later := &mockDatabase{name: "component"}
		maint := newMaintenance()

		err := NewReporter([]Database{broken, later}, maint, logger).Report(context.Background())
		if !errors.Is(err, boom) {
			t.Fatalf("expected database error, got %v", err)
		}
		if later.calls != 0 || maint.statusCalls != 0 {
			t.Error("report should stop at the first failure")
		}
	})

	t.Run("ha status", func(t *testing.T) {
		logger, _ := newTestLogger(slog.LevelInfo)
		maint := newMaintenance()
		maint.statusErr = boom

		if err := NewReporter(nil, maint, logger).Report(context.Background()); !errors.Is(err, boom) {
			t.Fatalf("expected status error, got %v", err)
		}
		if maint.statsCalls != 0 {
			t.Error("profiler statistics should not be read after a status failure")
		}
	})

	t.Run("profiler statistics", func(t *testing.T) {
		logger, _ := newTestLogger(slog.LevelInfo)
		maint := newMaintenance()
		maint.statsErr = boom

		if err := NewReporter(nil, maint, logger).Execute(context.Background()); !errors.Is(err, boom) {
			t.Fatalf("expected statistics error, got %v", err)
		}
	})
}

func TestReporterTask(t *testing.T) {
	r := NewReporter(nil, newMaintenance(), nil)
	if r.Name() != "cluster-log" {
		t.Errorf("unexpected task name %q", r.Name())
	}
	if r.Message() != "Log cluster information" {
		t.Errorf("unexpected task message %q", r.Message())
	}
}
