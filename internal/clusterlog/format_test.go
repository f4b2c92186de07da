package clusterlog

import (
	"fmt"
	"strings"
	"testing"

	"github.com/witnz/clusterlog/internal/storage"
	"pgregory.net/rapid"
)

func TestFormatTable(t *testing.T) {
	got := FormatTable("config", []storage.TableInfo{
		{Name: "repository", Count: 12},
		{Name: "Capability", Count: 3},
		{Name: "blob_store", Count: 1},
	})

	want := "\n" +
		"+--------------------------------+-----------------+\n" +
		"| config Database                                  |\n" +
		"+--------------------------------+-----------------+\n" +
		"| Table Name                     | Count           |\n" +
		"+--------------------------------+-----------------+\n" +
		"| blob_store                     | 1               |\n" +
		"| Capability                     | 3               |\n" +
		"| repository                     | 12              |\n" +
		"+--------------------------------+-----------------+\n"

	if got != want {
		t.Errorf("FormatTable mismatch\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestFormatTableEmpty(t *testing.T) {
	got := FormatTable("component", nil)
	if strings.Count(got, Separator) != 4 {
		t.Errorf("expected 4 separators for empty table, got:\n%s", got)
	}
	if !strings.Contains(got, "| component Database") {
		t.Errorf("expected database header, got:\n%s", got)
	}
}

func TestFormatTableDoesNotReorderInput(t *testing.T) {
	tables := []storage.TableInfo{{Name: "b"}, {Name: "a"}}
	FormatTable("config", tables)
	if tables[0].Name != "b" {
		t.Error("FormatTable must not sort the caller's slice")
	}
}

func TestFormatTableSortedIgnoringCase(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		names := rapid.SliceOfDistinct(
			rapid.StringMatching(`[A-Za-z_]{1,20}`),
			func(s string) string { return s },
		).Draw(t, "names")

		tables := make([]storage.TableInfo, len(names))
		for i, n := range names {
			tables[i] = storage.TableInfo{Name: n, Count: int64(i)}
		}

		out := FormatTable("db", tables)
		lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
		// blank, sep, header, sep, columns, sep, rows..., sep
		rows := lines[6 : len(lines)-1]
		if len(rows) != len(names) {
			t.Fatalf("expected %d rows, got %d", len(names), len(rows))
		}

		var prev string
		for i, row := range rows {
			name := strings.TrimSpace(strings.Split(row, "|")[1])
			if i > 0 && strings.ToLower(prev) > strings.ToLower(name) {
				t.Fatalf("rows not sorted ignoring case: %q before %q", prev, name)
			}
			prev = name
		}
	})
}

func TestFormatProfilerStatistics(t *testing.T) {
	got := FormatProfilerStatistics(map[string]string{
		"raft.term":        "4",
		"db.config.writes": "10",
	})

	want := "Profiler statistics:\n  db.config.writes: 10\n  raft.term: 4"
	if got != want {
		t.Errorf("FormatProfilerStatistics = %q, want %q", got, want)
	}

	if got := FormatProfilerStatistics(nil); got != "Profiler statistics:\n" {
		t.Errorf("expected header only for empty stats, got %q", got)
	}
}

func TestFormatProfilerStatisticsOneLinePerEntry(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		stats := rapid.MapOf(
			rapid.StringMatching(`[a-z][a-z0-9_.]{0,15}`),
			rapid.StringMatching(`[0-9a-z]{0,8}`),
		).Draw(t, "stats")

		out := FormatProfilerStatistics(stats)
		lines := strings.Split(out, "\n")[1:]
		if len(stats) == 0 {
			return
		}
		if len(lines) != len(stats) {
			t.Fatalf("expected %d lines, got %d", len(stats), len(lines))
		}
		for k, v := range stats {
			want := fmt.Sprintf("  %s: %s", k, v)
			found := false
			for _, l := range lines {
				if l == want {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("missing line %q in %q", want, out)
			}
		}
	})
}
