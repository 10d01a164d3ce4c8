package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"medialeech/internal/metrics"
	"medialeech/internal/task"
)

// Watchdog periodically samples system load and user activity, and asks for
// a graceful restart when the process is saturated or idle while no task is
// running. A restart never interrupts active work.
type Watchdog struct {
	Registry     *task.Registry
	Trigger      func(reason string)
	Interval     time.Duration
	StartupGrace time.Duration
	IdleTimeout  time.Duration
	CPUThreshold float64
	RAMThreshold float64
	Logger       *slog.Logger

	// Sample is replaceable in tests; defaults to gopsutil.
	Sample func(ctx context.Context) (cpuPct, ramPct float64, err error)
	Now    func() time.Time

	mu           sync.Mutex
	lastActivity time.Time
}

func (w *Watchdog) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Touch records user activity. Every command handler calls it.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	w.lastActivity = w.now()
	w.mu.Unlock()
}

func (w *Watchdog) idleSince() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActivity
}

func (w *Watchdog) sample(ctx context.Context) (float64, float64, error) {
	if w.Sample != nil {
		return w.Sample(ctx)
	}
	return sampleSystem(ctx)
}

func sampleSystem(ctx context.Context) (float64, float64, error) {
	percents, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return 0, 0, err
	}
	var cpuPct float64
	if len(percents) > 0 {
		cpuPct = percents[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return cpuPct, 0, err
	}
	return cpuPct, vm.UsedPercent, nil
}

// Run loops until ctx is done. One restart request ends the loop; the
// coordinator takes it from there.
func (w *Watchdog) Run(ctx context.Context) {
	w.Touch()

	if w.StartupGrace > 0 {
		timer := time.NewTimer(w.StartupGrace)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reason := w.tick(ctx); reason != "" {
				metrics.WatchdogRestartsTotal.WithLabelValues(reason).Inc()
				w.Logger.Warn("watchdog: restart triggered", slog.String("reason", reason))
				w.Trigger(reason)
				return
			}
		}
	}
}

// tick returns a non-empty restart reason when the restart condition holds.
func (w *Watchdog) tick(ctx context.Context) string {
	active := w.Registry.Active()
	metrics.ActiveTasks.Set(float64(active))
	if active > 0 {
		return ""
	}

	cpuPct, ramPct, err := w.sample(ctx)
	if err != nil {
		w.Logger.Debug("watchdog: sample failed", slog.Any("error", err))
	} else {
		w.Logger.Debug("watchdog: tick",
			slog.Float64("cpu", cpuPct),
			slog.Float64("ram", ramPct),
			slog.Int("activeTasks", active),
		)
		if cpuPct >= w.CPUThreshold {
			return "cpu_saturated"
		}
		if ramPct >= w.RAMThreshold {
			return "ram_saturated"
		}
	}

	if w.IdleTimeout > 0 && w.now().Sub(w.idleSince()) >= w.IdleTimeout {
		return "idle_timeout"
	}
	return ""
}
