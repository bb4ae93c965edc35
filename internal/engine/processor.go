package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"punchd/internal/metrics"
	"punchd/internal/punch"
	logx "punchd/pkg/logx"
)

// Processor orchestrates one full automation cycle. It does NOT
// acquire the run lock: that is the caller's job (scheduler tick or
// HTTP trigger), so the same cycle logic serves both paths.
type Processor struct {
	engine  *Engine
	exec    *Executor
	records RecordStore
	met     *metrics.Set
	notif   Notifier
	log     logx.Logger

	nowFn func() time.Time
}

func NewProcessor(engine *Engine, exec *Executor, records RecordStore, met *metrics.Set, notif Notifier, log logx.Logger) *Processor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Processor{
		engine:  engine,
		exec:    exec,
		records: records,
		met:     met,
		notif:   notif,
		log:     log,
		nowFn:   time.Now,
	}
}

// RunCycle computes eligibility and executes every decided action,
// logins first, strictly sequentially. The caller must hold the run
// lock for the whole call.
//
// A failure to evaluate users aborts the cycle with a log line; the
// next tick simply tries again. Record-append failures are logged and
// swallowed so the audit log can never stall the automation.
func (p *Processor) RunCycle(ctx context.Context, source Source) {
	start := p.nowFn()
	cycleID := uuid.NewString()[:8]
	log := p.log.With(logx.String("cycle", cycleID), logx.String("source", string(source)))

	decisions, err := p.engine.Evaluate(ctx)
	if err != nil {
		log.Error("cycle aborted", logx.Err(err))
		p.met.CycleRan(string(source), p.nowFn().Sub(start))
		return
	}

	var logins, logouts []Decision
	for _, d := range decisions {
		if d.Action == punch.ActionLogin {
			logins = append(logins, d)
		} else {
			logouts = append(logouts, d)
		}
	}
	if len(decisions) > 0 {
		log.Info("cycle starting", logx.Int("logins", len(logins)), logx.Int("logouts", len(logouts)))
	} else {
		log.Debug("cycle idle")
	}

	// Logouts always run after every login of the cycle, even though
	// both lists came from the same snapshot.
	for _, d := range logins {
		p.runOne(ctx, log, d)
	}
	for _, d := range logouts {
		p.runOne(ctx, log, d)
	}

	p.met.CycleRan(string(source), p.nowFn().Sub(start))
}

func (p *Processor) runOne(ctx context.Context, log logx.Logger, d Decision) {
	res, err := p.exec.Execute(ctx, d.User, d.Action)
	if err != nil {
		// Persistence failure: the punch may have happened but the day
		// state does not reflect it. Loud, but the cycle continues.
		log.Error("status persist failed", logx.String("user", d.User.ID), logx.Err(err))
	}

	rec := punch.Record{
		ID:            uuid.NewString(),
		UserID:        d.User.ID,
		Action:        d.Action,
		ScheduledTime: d.ScheduledTime,
		ExecutedAt:    p.nowFn(),
		Success:       res.Success,
		Error:         res.Error,
	}
	if err := p.records.Append(ctx, rec); err != nil {
		log.Warn("record append failed", logx.String("user", d.User.ID), logx.Err(err))
	}

	p.met.ActionExecuted(string(d.Action), res.Success)

	if !res.Success && p.notif != nil {
		p.notif.Alert(ctx, fmt.Sprintf("%s for %s failed: %s", d.Action, d.User.ID, res.Error))
	}
}
