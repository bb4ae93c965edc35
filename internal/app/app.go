// Package app wires punchd's components together and owns their
// lifecycle: config, logging, stores, provider, engine, scheduler,
// HTTP server, and the hot-reload loop.
package app

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"punchd/internal/clock"
	"punchd/internal/config"
	"punchd/internal/engine"
	"punchd/internal/metrics"
	"punchd/internal/notify"
	"punchd/internal/provider"
	"punchd/internal/scheduler"
	"punchd/internal/secret"
	"punchd/internal/server"
	"punchd/internal/store"
	logx "punchd/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *Supervisor

	log    logx.Logger
	logSvc *logx.Service

	users *store.Users
	recs  store.Records
	box   *secret.Box
	met   *metrics.Set
	notif *notify.Telegram
	lock  *engine.Lock

	// procMu guards proc and prov across config-driven rebuilds; cycles
	// themselves are serialized by the run lock.
	procMu sync.RWMutex
	proc   *engine.Processor
	prov   provider.Provider

	sched *scheduler.Service
	srv   *server.Server
}

func New(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "config"))
	cfgm := config.NewManager(cfgPath, bootLog)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	key := strings.TrimSpace(os.Getenv(cfg.KeyEnv()))
	if key == "" {
		return nil, fmt.Errorf("credential key missing: set %s", cfg.KeyEnv())
	}
	box, err := secret.NewBox(key)
	if err != nil {
		return nil, fmt.Errorf("credential key: %w", err)
	}

	users, err := store.OpenUsers(cfg.Storage.UsersPath, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	maxAge, err := config.ParseDurationField("storage.records_max_age", cfg.Storage.RecordsMaxAge)
	if err != nil {
		return nil, err
	}
	recs, err := store.OpenRecords(store.RecordConfig{
		Driver:      cfg.Storage.RecordsDriver,
		Path:        cfg.Storage.RecordsPath,
		BusyTimeout: busyTimeout,
		MaxAge:      maxAge,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	prov, err := buildProvider(cfg, log)
	if err != nil {
		return nil, err
	}

	met := metrics.New(prometheus.DefaultRegisterer)
	lock := engine.NewLock(log.With(logx.String("comp", "lock")))

	var notif *notify.Telegram
	if cfg.Notify != nil && cfg.Notify.Enabled {
		notif, err = notify.New(notify.Config{
			Token:        cfg.Notify.Token,
			ChatID:       cfg.Notify.ChatID,
			MaxPerMinute: cfg.Notify.MaxPerMinute,
		}, log.With(logx.String("comp", "notify")))
		if err != nil {
			return nil, err
		}
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logSvc:  logSvc,
		users:   users,
		recs:    recs,
		box:     box,
		prov:    prov,
		met:     met,
		notif:   notif,
		lock:    lock,
	}

	a.proc, err = a.buildProcessor(cfg, prov)
	if err != nil {
		return nil, err
	}

	a.sched = scheduler.New(scheduler.Config{
		Enabled:     cfg.Scheduler.Enabled,
		Timezone:    cfg.Scheduler.Timezone,
		HistorySize: cfg.Scheduler.HistorySize,
	}, log.With(logx.String("comp", "scheduler")))

	if cfg.HTTP.Enabled {
		readTimeout, _ := config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 10*time.Second)
		writeTimeout, _ := config.ParseDurationOrDefault("http.write_timeout", cfg.HTTP.WriteTimeout, 30*time.Second)
		shutdownTimeout, _ := config.ParseDurationOrDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout, 5*time.Second)
		a.srv = server.New(server.Config{
			Addr:              cfg.HTTP.Address(),
			RequestsPerMinute: cfg.HTTP.RequestsPerMinute,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
			ShutdownTimeout:   shutdownTimeout,
		}, users, recs, box, lock, a, a.provider, log.With(logx.String("comp", "http")))
	}

	return a, nil
}

func buildProvider(cfg *config.Config, log logx.Logger) (provider.Provider, error) {
	timeout, err := config.ParseDurationOrDefault("provider.timeout", cfg.Provider.Timeout, 15*time.Second)
	if err != nil {
		return nil, err
	}
	return provider.New(provider.Config{
		Name:    cfg.Provider.Name,
		BaseURL: cfg.Provider.BaseURL,
		Timeout: timeout,
	}, log.With(logx.String("comp", "provider")))
}

// engineConfig maps the automation section onto engine knobs, filling
// gaps with the engine defaults.
func engineConfig(cfg *config.Config) (engine.Config, error) {
	ec := engine.DefaultConfig()
	auto := cfg.Automation
	if auto.WindowMinutes > 0 {
		ec.WindowMinutes = auto.WindowMinutes
	}
	if auto.JitterMinutes > 0 {
		ec.JitterMinutes = auto.JitterMinutes
	}
	if auto.RetryHorizonHours > 0 {
		ec.RetryHorizonHours = auto.RetryHorizonHours
	}
	if auto.MaxDayAttempts > 0 {
		ec.MaxDayAttempts = auto.MaxDayAttempts
	}
	if s := strings.TrimSpace(auto.EmergencyStart); s != "" {
		m, err := clock.Parse(s)
		if err != nil {
			return ec, fmt.Errorf("automation.emergency_start: %w", err)
		}
		ec.EmergencyStart = m
	}
	if s := strings.TrimSpace(auto.EmergencyEnd); s != "" {
		m, err := clock.Parse(s)
		if err != nil {
			return ec, fmt.Errorf("automation.emergency_end: %w", err)
		}
		ec.EmergencyEnd = m
	}
	if auto.ExecAttempts > 0 {
		ec.ExecAttempts = auto.ExecAttempts
	}
	if s := strings.TrimSpace(auto.ExecRetryDelay); s != "" {
		d, err := config.ParseDurationField("automation.exec_retry_delay", s)
		if err != nil {
			return ec, err
		}
		ec.ExecRetryDelay = d
	}
	return ec, nil
}

func (a *App) buildProcessor(cfg *config.Config, prov provider.Provider) (*engine.Processor, error) {
	ec, err := engineConfig(cfg)
	if err != nil {
		return nil, err
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if l, lerr := time.LoadLocation(tz); lerr == nil {
			loc = l
		} else {
			a.log.Warn("invalid timezone, using host zone", logx.String("tz", tz), logx.Err(lerr))
		}
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	eng := engine.NewEngine(ec, a.users, rng, loc, a.log.With(logx.String("comp", "engine")))
	exec := engine.NewExecutor(ec, prov, a.users, eng.Tracker(), a.box, a.log.With(logx.String("comp", "executor")))

	var notif engine.Notifier
	if a.notif != nil {
		notif = a.notif
	}
	return engine.NewProcessor(eng, exec, a.recs, a.met, notif, a.log.With(logx.String("comp", "processor"))), nil
}

// RunCycle satisfies the server's CycleRunner using whatever processor
// is current. The caller holds the run lock.
func (a *App) RunCycle(ctx context.Context, source engine.Source) {
	a.procMu.RLock()
	proc := a.proc
	a.procMu.RUnlock()
	proc.RunCycle(ctx, source)
}

// provider returns the current portal client; reloads swap it, so the
// HTTP health probe reads through here instead of holding an instance.
func (a *App) provider() provider.Provider {
	a.procMu.RLock()
	defer a.procMu.RUnlock()
	return a.prov
}

// Done is closed when the supervisor context ends (fatal error or
// Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, a.log)

	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
		cfg := a.cfgm.Get()
		if _, err := a.sched.AddCron("punch-cycle", cfg.Scheduler.TickSpec(), 0, a.tick); err != nil {
			return fmt.Errorf("schedule tick: %w", err)
		}
	}

	if a.srv != nil {
		a.sup.Go("http", func(ctx context.Context) error {
			return a.srv.Start()
		})
	}

	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("config.reload", a.reloadLoop)

	a.log.Info("punchd started")
	return nil
}

// tick is the scheduled cycle trigger. A tick that finds the lock held
// simply skips: the running cycle (cron or manual) covers this minute.
func (a *App) tick(ctx context.Context) error {
	if !a.lock.TryAcquire(engine.SourceCron) {
		a.met.LockContended()
		a.log.Debug("tick skipped, cycle already running")
		return nil
	}
	defer a.lock.Release()
	a.RunCycle(ctx, engine.SourceCron)
	return nil
}

// reloadLoop applies config changes while running. Logging, scheduler,
// and automation settings apply live; storage, http, and secret
// changes need a restart and are only logged.
func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case newCfg, ok := <-sub:
			if !ok {
				return nil
			}
			// Coalesce bursts: only the latest config matters.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, no effective changes")
		return
	}

	a.logSvc.Apply(logx.Config{
		Level:   newCfg.Logging.Level,
		Console: newCfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: newCfg.Logging.File.Enabled,
			Path:    newCfg.Logging.File.Path,
		},
	})

	prevEnabled := a.sched.Enabled()
	a.sched.Apply(scheduler.Config{
		Enabled:     newCfg.Scheduler.Enabled,
		Timezone:    newCfg.Scheduler.Timezone,
		HistorySize: newCfg.Scheduler.HistorySize,
	})
	switch {
	case prevEnabled && !newCfg.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !prevEnabled && newCfg.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(a.sup.Context())
		if _, err := a.sched.AddCron("punch-cycle", newCfg.Scheduler.TickSpec(), 0, a.tick); err != nil {
			a.log.Error("schedule tick", logx.Err(err))
		}
	}

	if oldCfg.Automation != newCfg.Automation || oldCfg.Provider != newCfg.Provider ||
		oldCfg.Scheduler.Timezone != newCfg.Scheduler.Timezone {
		prov := a.provider()
		if oldCfg.Provider != newCfg.Provider {
			p, err := buildProvider(newCfg, a.log)
			if err != nil {
				a.log.Error("provider rebuild failed, keeping current", logx.Err(err))
			} else {
				prov = p
			}
		}
		proc, err := a.buildProcessor(newCfg, prov)
		if err != nil {
			a.log.Error("automation rebuild failed, keeping current", logx.Err(err))
		} else {
			a.procMu.Lock()
			a.proc = proc
			a.prov = prov
			a.procMu.Unlock()
		}
	}

	for _, section := range []string{"storage", "http"} {
		for _, changed := range sections {
			if changed == section {
				a.log.Warn("section changed, restart required to apply", logx.String("section", section))
			}
		}
	}

	a.log.Info("config reloaded",
		append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	a.sup.Cancel()

	// Bounded shutdown steps so one component cannot stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached", logx.String("name", name))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	if a.srv != nil {
		step("http", 6*time.Second, a.srv.Stop)
	}
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("records", time.Second, func(context.Context) error { return a.recs.Close() })

	a.log.Info("stopped")
	return a.logSvc.Close()
}
