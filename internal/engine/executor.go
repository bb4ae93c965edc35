package engine

import (
	"context"
	"fmt"
	"time"

	"punchd/internal/provider"
	"punchd/internal/punch"
	logx "punchd/pkg/logx"
)

// Executor runs one eligible action against the portal provider,
// retrying within the cycle, and persists the outcome on the user's
// day state.
type Executor struct {
	cfg      Config
	prov     provider.Provider
	users    UserStore
	tracker  *punch.Tracker
	box      Decrypter
	log      logx.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	nowFn    func() time.Time
}

func NewExecutor(cfg Config, prov provider.Provider, users UserStore, tracker *punch.Tracker, box Decrypter, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{
		cfg:     cfg,
		prov:    prov,
		users:   users,
		tracker: tracker,
		box:     box,
		log:     log,
		sleep:   sleepCtx,
		nowFn:   time.Now,
	}
}

// Execute attempts the action up to cfg.ExecAttempts times. The
// returned result reflects the final attempt; the returned error is a
// persistence failure only (a failed punch is a normal result, not an
// error).
//
// A decryption failure or a failed provider health check short-circuits
// the retry loop: neither will get better by retrying here, and the
// provider decides retry-worthiness of its own transport per call.
func (x *Executor) Execute(ctx context.Context, u punch.User, action punch.Action) (punch.Result, error) {
	log := x.log.With(logx.String("user", u.ID), logx.String("action", string(action)))

	password, err := x.box.Open(u.Password)
	if err != nil {
		res := punch.Result{Error: fmt.Sprintf("decrypt credentials: %v", err)}
		log.Error("cannot process user this cycle", logx.Err(err))
		return res, x.persist(u.ID, action, res)
	}

	if !x.prov.HealthCheck(ctx) {
		res := punch.Result{Error: "portal health check failed"}
		log.Warn("portal unreachable")
		return res, x.persist(u.ID, action, res)
	}

	creds := provider.Credentials{UserID: u.ID, Password: password}
	attempts := x.cfg.ExecAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr string
	for attempt := 1; attempt <= attempts; attempt++ {
		pr, err := x.callProvider(ctx, creds, action)
		if err != nil {
			lastErr = err.Error()
		} else if pr.Success {
			res := punch.Result{Success: true, ActualTime: pr.ActualTime}
			log.Info("punch succeeded", logx.Int("attempt", attempt), logx.String("actual", pr.ActualTime))
			return res, x.persist(u.ID, action, res)
		} else {
			lastErr = pr.Message
			if lastErr == "" {
				lastErr = fmt.Sprintf("portal rejected %s", action)
			}
		}
		log.Warn("punch attempt failed", logx.Int("attempt", attempt), logx.String("err", lastErr))

		if attempt < attempts {
			if err := x.sleep(ctx, x.cfg.ExecRetryDelay); err != nil {
				lastErr = err.Error()
				break
			}
		}
	}

	res := punch.Result{Error: lastErr}
	return res, x.persist(u.ID, action, res)
}

// callProvider routes to the right capability method and converts a
// provider panic into a failed result. The Provider contract says
// failures surface as success=false, but a scripted browser backend is
// exactly the kind of dependency that violates contracts.
func (x *Executor) callProvider(ctx context.Context, creds provider.Credentials, action punch.Action) (pr provider.PunchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			pr = provider.PunchResult{}
			err = fmt.Errorf("provider panic: %v", r)
		}
	}()
	switch action {
	case punch.ActionLogout:
		return x.prov.Logout(ctx, creds)
	default:
		return x.prov.Login(ctx, creds)
	}
}

// persist folds the result into the stored user. A write failure here
// is a correctness problem and propagates to the processor.
func (x *Executor) persist(userID string, action punch.Action, res punch.Result) error {
	now := x.nowFn()
	_, err := x.users.Update(userID, func(cur punch.User) punch.User {
		return x.tracker.ApplyResult(cur, action, res, now)
	})
	if err != nil {
		return fmt.Errorf("persist %s result for %s: %w", action, userID, err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
