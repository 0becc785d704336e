package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

// StatsSink receives the samples taken by ProcessStatsWorker.
type StatsSink interface {
	SetProcessStats(rss uint64, cpu float64)
	SetRooms(n int)
}

// RoomCounter is the part of the registry the worker reports on.
type RoomCounter interface {
	Rooms() int
}

// ProcessStatsWorker periodically samples the server's own memory and CPU
// together with the number of live rooms.
type ProcessStatsWorker struct {
	log      *slog.Logger
	sink     StatsSink
	rooms    RoomCounter
	interval time.Duration
}

func NewProcessStatsWorker(log *slog.Logger, sink StatsSink, rooms RoomCounter, interval time.Duration) *ProcessStatsWorker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ProcessStatsWorker{log: log, sink: sink, rooms: rooms, interval: interval}
}

func (w *ProcessStatsWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.sample(p)
		}
	}
}

func (w *ProcessStatsWorker) sample(p *process.Process) {
	w.sink.SetRooms(w.rooms.Rooms())
	memInfo, err := p.MemoryInfo()
	if err != nil {
		w.log.Warn("Failed to collect memory stats", "error", err)
		return
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		w.log.Warn("Failed to collect cpu stats", "error", err)
		return
	}
	w.sink.SetProcessStats(memInfo.RSS, cpu)
}
