package clusterlog

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/witnz/clusterlog/internal/storage"
)

const Separator = "+--------------------------------+-----------------+\n"

// FormatTable renders the row counts of one database as a bordered text
// table, ordered by table name ignoring case.
func FormatTable(database string, tables []storage.TableInfo) string {
	sorted := slices.Clone(tables)
	slices.SortStableFunc(sorted, func(a, b storage.TableInfo) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(Separator)
	fmt.Fprintf(&b, "| %-48s |\n", database+" Database")
	b.WriteString(Separator)
	b.WriteString("| Table Name                     | Count           |\n")
	b.WriteString(Separator)
	for _, t := range sorted {
		fmt.Fprintf(&b, "| %-30s | %-15d |\n", t.Name, t.Count)
	}
	b.WriteString(Separator)

	return b.String()
}

// FormatProfilerStatistics renders one "  name: value" line per statistic,
// ordered by name.
func FormatProfilerStatistics(stats map[string]string) string {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, "  "+k+": "+stats[k])
	}

	return "Profiler statistics:\n" + strings.Join(lines, "\n")
}
