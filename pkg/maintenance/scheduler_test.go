package maintenance

import (
	"testing"

	"github.com/platinummonkey/gatekeeper/pkg/storage/memory"
)

func TestSchedulerStartStop(t *testing.T) {
	sweeper := NewSweeper(memory.New(), nil, nil, nil)
	sched := NewScheduler(sweeper, nil, DefaultSchedulerConfig())

	if err := sched.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	sched.Stop()
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	sweeper := NewSweeper(memory.New(), nil, nil, nil)

	cfg := DefaultSchedulerConfig()
	cfg.ExpirationSchedule = "not a schedule"
	if err := NewScheduler(sweeper, nil, cfg).Start(); err == nil {
		t.Error("Start() accepted an invalid expiration schedule")
	}

	cfg = DefaultSchedulerConfig()
	cfg.GraceSchedule = "* * *"
	if err := NewScheduler(sweeper, nil, cfg).Start(); err == nil {
		t.Error("Start() accepted an invalid grace schedule")
	}
}
