// Package hoststat describes the host CPU and measures how busy it was
// while a benchmark ran.
package hoststat

import (
	"context"
	"fmt"

	"github.com/mackerelio/go-osstat/cpu"
	psutil "github.com/shirou/gopsutil/v4/cpu"
)

// Host identifies the processor the benchmark runs on.
type Host struct {
	Model    string
	MHz      float64
	Logical  int
	Physical int
}

// Describe reads the CPU model and core counts of the host.
func Describe(ctx context.Context) (Host, error) {
	var host Host

	infos, err := psutil.InfoWithContext(ctx)
	if err != nil {
		return host, fmt.Errorf("read cpu info: %w", err)
	}

	if len(infos) > 0 {
		host.Model = infos[0].ModelName
		host.MHz = infos[0].Mhz
	}

	host.Logical, err = psutil.CountsWithContext(ctx, true)
	if err != nil {
		return host, fmt.Errorf("count logical cpus: %w", err)
	}

	host.Physical, err = psutil.CountsWithContext(ctx, false)
	if err != nil {
		return host, fmt.Errorf("count physical cpus: %w", err)
	}

	return host, nil
}

// Snapshot is a point-in-time reading of the cumulative CPU tick counters.
type Snapshot struct {
	user   uint64
	system uint64
	idle   uint64
	total  uint64
}

// Sample reads the current CPU counters.
func Sample() (Snapshot, error) {
	stats, err := cpu.Get()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read cpu stats: %w", err)
	}

	return Snapshot{
		user:   stats.User,
		system: stats.System,
		idle:   stats.Idle,
		total:  stats.Total,
	}, nil
}

// Usage is the share of CPU time, in percent, spent in each mode between
// two snapshots. Busy is every non-idle tick, so nice, irq and steal time
// count towards it even though they have no field of their own.
type Usage struct {
	User   float64
	System float64
	Idle   float64
	Busy   float64
}

// Since returns the usage between prev and s. Counters that did not
// advance yield a zero Usage.
func (s Snapshot) Since(prev Snapshot) Usage {
	if s.total <= prev.total {
		return Usage{}
	}

	total := float64(s.total - prev.total)
	idle := min(delta(s.idle, prev.idle)/total*100, 100)

	return Usage{
		User:   delta(s.user, prev.user) / total * 100,
		System: delta(s.system, prev.system) / total * 100,
		Idle:   idle,
		Busy:   100 - idle,
	}
}

func delta(cur, prev uint64) float64 {
	if cur < prev {
		return 0
	}

	return float64(cur - prev)
}
