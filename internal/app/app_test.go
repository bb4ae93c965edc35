package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"punchd/internal/config"
	"punchd/internal/engine"
	logx "punchd/pkg/logx"
)

func TestEngineConfigDefaults(t *testing.T) {
	ec, err := engineConfig(&config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	def := engine.DefaultConfig()
	if ec != def {
		t.Fatalf("empty automation section should yield defaults, got %+v", ec)
	}
}

func TestEngineConfigOverrides(t *testing.T) {
	cfg := &config.Config{}
	cfg.Automation = config.AutomationConfig{
		WindowMinutes:  10,
		MaxDayAttempts: 3,
		EmergencyStart: "21:30",
		EmergencyEnd:   "23:00",
		ExecRetryDelay: "1s",
	}
	ec, err := engineConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if ec.WindowMinutes != 10 || ec.MaxDayAttempts != 3 {
		t.Fatalf("overrides not applied: %+v", ec)
	}
	if ec.EmergencyStart != 21*60+30 || ec.EmergencyEnd != 23*60 {
		t.Fatalf("emergency range = %d..%d", ec.EmergencyStart, ec.EmergencyEnd)
	}
	if ec.ExecRetryDelay != time.Second {
		t.Fatalf("retry delay = %v", ec.ExecRetryDelay)
	}
	// Untouched knobs keep their defaults.
	if ec.JitterMinutes != engine.DefaultConfig().JitterMinutes {
		t.Fatalf("jitter = %d", ec.JitterMinutes)
	}
}

func TestEngineConfigRejectsBadTime(t *testing.T) {
	cfg := &config.Config{}
	cfg.Automation.EmergencyStart = "24:61"
	if _, err := engineConfig(cfg); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSupervisorCancelsSiblingsOnError(t *testing.T) {
	sup := NewSupervisor(context.Background(), logx.Nop())

	boom := errors.New("boom")
	sup.Go("failing", func(ctx context.Context) error { return boom })
	sup.Go("sibling", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := sup.Wait(waitCtx)
	if !errors.Is(err, boom) {
		t.Fatalf("Wait = %v, want boom", err)
	}
}

func TestSupervisorRecoversPanic(t *testing.T) {
	sup := NewSupervisor(context.Background(), logx.Nop())
	sup.Go("panicky", func(ctx context.Context) error { panic("oops") })

	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sup.Wait(waitCtx); err == nil {
		t.Fatal("expected panic to surface as error")
	}
}

func TestSupervisorCleanStop(t *testing.T) {
	sup := NewSupervisor(context.Background(), logx.Nop())
	sup.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	sup.Cancel()
	waitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sup.Wait(waitCtx); err != nil {
		t.Fatalf("Wait = %v, want nil (context.Canceled is not fatal)", err)
	}
}
