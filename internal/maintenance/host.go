package maintenance

import (
	"context"
	"strconv"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// collectHostStats is best-effort: counters the platform cannot provide are
// left out.
func collectHostStats(ctx context.Context) map[string]string {
	stats := make(map[string]string)

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats["mem_total_bytes"] = strconv.FormatUint(vm.Total, 10)
		stats["mem_used_bytes"] = strconv.FormatUint(vm.Used, 10)
		stats["mem_used_percent"] = strconv.FormatFloat(vm.UsedPercent, 'f', 1, 64)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		stats["load_avg_1"] = strconv.FormatFloat(avg.Load1, 'f', 2, 64)
		stats["load_avg_5"] = strconv.FormatFloat(avg.Load5, 'f', 2, 64)
		stats["load_avg_15"] = strconv.FormatFloat(avg.Load15, 'f', 2, 64)
	}

	if threads, err := cpu.CountsWithContext(ctx, true); err == nil && threads > 0 {
		stats["cpu_threads"] = strconv.Itoa(threads)
	}

	return stats
}
