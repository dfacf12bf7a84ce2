// Package app wires configuration, transport, storage and the
// announcement services into one runnable bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"heraldbot/internal/config"
	"heraldbot/internal/dispatch"
	"heraldbot/internal/eventbus"
	"heraldbot/internal/keepalive"
	"heraldbot/internal/logring"
	rtsup "heraldbot/internal/runtime/supervisor"
	"heraldbot/internal/services/announce"
	"heraldbot/internal/services/scheduler"
	"heraldbot/internal/storage"
	kit "heraldbot/internal/transport"
	"heraldbot/internal/transport/telegram"
	logx "heraldbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger
	ring *logring.Ring

	adapter *telegram.Adapter
	updates chan kit.Update

	bus     eventbus.Bus
	store   storage.Store
	storCfg storage.Config
	limiter *dispatch.Limiter
	dir     *directory
	hub     *ConfirmHub
	ann     *announce.Service
	sched   *scheduler.Service
	keep    *keepalive.Service
	cmds    *Commands

	sup *rtsup.Supervisor
}

// New loads the config at path and builds every component. Nothing runs
// until Start.
func New(path string) (*App, error) {
	cfgm := config.NewManager(path)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Bootstrap logger so adapter construction failures are visible before
	// the full log service exists.
	boot := logx.NewConsole(cfg.Logging.Level)

	pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, boot)
	if err != nil {
		return nil, fmt.Errorf("telegram adapter: %w", err)
	}

	ring := logring.New(cfg.Logging.RingSize)
	logs, log := logx.New(mapLogging(cfg.Logging), adapter, ring)
	if chatID, threadID, ok := parseGroupLog(cfg.Telegram.GroupLog); ok {
		logs.SetTelegramTarget(chatID, threadID)
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	storCfg := mapStorage(cfg.Storage)
	store, err := storage.Open(storCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	annCfg, err := mapAnnounce(cfg.Announce)
	if err != nil {
		logs.Close()
		return nil, err
	}
	schedCfg, err := mapScheduler(cfg.Scheduler)
	if err != nil {
		logs.Close()
		return nil, err
	}

	// One limiter for the whole process. Jobs submitted by commands and by
	// the scheduler draw from the same token pool.
	capacity := annCfg.RateCapacity
	if capacity <= 0 {
		capacity = 25
	}
	window := annCfg.RateWindow
	if window <= 0 {
		window = time.Minute
	}
	limiter := dispatch.NewLimiter(capacity, window)

	dir := newDirectory(store)
	hub := NewConfirmHub(adapter, log.With(logx.String("comp", "confirm")))

	ann := announce.New(annCfg, announce.Deps{
		Limiter:   limiter,
		Directory: dir,
		Confirmer: hub,
		Sender:    adapter,
		Store:     store,
		Bus:       bus,
		Log:       log.With(logx.String("comp", "announce")),
	})

	sched := scheduler.New(schedCfg, ann, log.With(logx.String("comp", "scheduler")))
	keep := keepalive.New(mapKeepalive(cfg.Keepalive), log.With(logx.String("comp", "keepalive")))
	cmds := NewCommands(adapter, ann, dir, hub, ring, cfg.Telegram.OwnerUserIDs, log.With(logx.String("comp", "commands")))

	return &App{
		cfgm:    cfgm,
		logs:    logs,
		log:     log,
		ring:    ring,
		adapter: adapter,
		updates: make(chan kit.Update, 128),
		bus:     bus,
		store:   store,
		storCfg: storCfg,
		limiter: limiter,
		dir:     dir,
		hub:     hub,
		ann:     ann,
		sched:   sched,
		keep:    keep,
		cmds:    cmds,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		rtsup.WithCancelOnError(true),
	)

	a.cfgm.SetValidator(a.validateConfig)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("start telegram: %w", err)
	}
	a.ann.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())
	a.keep.Start(a.sup.Context())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmds.DispatchLoop(c, a.updates)
	})

	a.sup.Go0("eventbus.log", func(c context.Context) {
		ch, unsub := a.bus.Subscribe(32)
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", ev.Type), logx.Any("data", ev.Data))
			}
		}
	})

	a.sup.Go0("config.reload", func(c context.Context) {
		sub := a.cfgm.Subscribe(4)
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts; only the newest config matters.
				for drained := false; !drained; {
					select {
					case next, ok := <-sub:
						if !ok {
							drained = true
							break
						}
						cfg = next
					default:
						drained = true
					}
				}
				if cfg != nil {
					a.applyConfig(cfg)
				}
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("bot started")
	return nil
}

// applyConfig pushes a reloaded config into the running services. The
// validator already accepted it, so parse errors here are unexpected.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(mapLogging(cfg.Logging))
	if chatID, threadID, ok := parseGroupLog(cfg.Telegram.GroupLog); ok {
		a.logs.SetTelegramTarget(chatID, threadID)
	} else {
		a.logs.SetTelegramTarget(0, 0)
	}

	if annCfg, err := mapAnnounce(cfg.Announce); err == nil {
		a.ann.Apply(annCfg)
	} else {
		a.log.Warn("announce config not applied", logx.Err(err))
	}
	if schedCfg, err := mapScheduler(cfg.Scheduler); err == nil {
		a.sched.Apply(schedCfg)
	} else {
		a.log.Warn("scheduler config not applied", logx.Err(err))
	}
	a.cmds.SetOwners(cfg.Telegram.OwnerUserIDs)

	// Storage and the bot token cannot be swapped at runtime.
	if mapStorage(cfg.Storage) != a.storCfg {
		a.log.Warn("storage config changed; restart required to take effect")
	}
	a.log.Info("config applied")
}

// validateConfig gates hot reloads; a rejected config keeps the old one.
func (a *App) validateConfig(ctx context.Context, cfg *config.Config) error {
	_ = ctx
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is empty")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, _, ok := parseGroupLog(g); !ok {
			return fmt.Errorf("telegram.group_log: invalid chat reference %q", g)
		}
	}
	if _, err := mapAnnounce(cfg.Announce); err != nil {
		return err
	}
	if _, err := mapScheduler(cfg.Scheduler); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	if cfg.Storage != nil {
		switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", d)
		}
		if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) Stop(ctx context.Context) {
	if a.sup != nil {
		a.sup.Cancel()
	}

	step := func(name string, fn func()) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn()
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.log.Warn("shutdown step timed out", logx.String("step", name))
		}
	}

	step("scheduler", func() { a.sched.Stop(ctx) })
	step("announce", func() { a.ann.Stop(ctx) })
	step("keepalive", func() { a.keep.Stop(ctx) })
	step("telegram", func() { _ = a.adapter.Stop(ctx) })
	if a.store != nil {
		step("storage", func() { _ = a.store.Close() })
	}

	if a.sup != nil {
		if err := a.sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			a.log.Warn("shutdown finished with error", logx.Err(err))
		}
	}

	a.log.Info("bot stopped")
	_ = a.logs.Close()
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func mapLogging(l config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func mapAnnounce(c config.AnnounceConfig) (announce.Config, error) {
	out := announce.Config{
		Enabled:          c.Enabled,
		BatchSize:        c.BatchSize,
		RateCapacity:     c.RateCapacity,
		ConfirmThreshold: c.ConfirmThreshold,
		StatusMax:        c.StatusMax,
	}
	var err error
	if out.RateWindow, err = config.ParseDurationField("announce.rate_window", c.RateWindow); err != nil {
		return announce.Config{}, err
	}
	if out.ConfirmTimeout, err = config.ParseDurationField("announce.confirm_timeout", c.ConfirmTimeout); err != nil {
		return announce.Config{}, err
	}
	if out.RetrySlack, err = config.ParseDurationField("announce.retry_slack", c.RetrySlack); err != nil {
		return announce.Config{}, err
	}
	if out.BatchDelay, err = config.ParseDurationField("announce.batch_delay", c.BatchDelay); err != nil {
		return announce.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationField("announce.send_timeout", c.SendTimeout); err != nil {
		return announce.Config{}, err
	}
	if out.StatusTTL, err = config.ParseDurationField("announce.status_ttl", c.StatusTTL); err != nil {
		return announce.Config{}, err
	}
	return out, nil
}

func mapScheduler(c config.SchedulerConfig) (scheduler.Config, error) {
	out := scheduler.Config{
		Enabled:  c.Enabled,
		Timezone: c.Timezone,
		Jobs:     make([]scheduler.Job, 0, len(c.Jobs)),
	}
	for _, j := range c.Jobs {
		if strings.TrimSpace(j.Name) == "" {
			return scheduler.Config{}, errors.New("scheduler.jobs: job name is empty")
		}
		if j.ChatID == 0 {
			return scheduler.Config{}, fmt.Errorf("scheduler.jobs[%s]: chat_id is required", j.Name)
		}
		if strings.TrimSpace(j.Text) == "" {
			return scheduler.Config{}, fmt.Errorf("scheduler.jobs[%s]: text is empty", j.Name)
		}
		if _, err := scheduler.NormalizeSpec(j.Spec); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.jobs[%s]: %w", j.Name, err)
		}
		out.Jobs = append(out.Jobs, scheduler.Job{
			Name:      j.Name,
			Spec:      j.Spec,
			ChatID:    j.ChatID,
			Text:      j.Text,
			Anonymous: j.Anonymous,
		})
	}
	return out, nil
}

func mapStorage(c *config.StorageConfig) storage.Config {
	if c == nil {
		return storage.Config{}
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		busy = 0
	}
	return storage.Config{Driver: c.Driver, Path: c.Path, BusyTimeout: busy}
}

func mapKeepalive(c *config.KeepaliveConfig) keepalive.Config {
	if c == nil {
		return keepalive.Config{}
	}
	return keepalive.Config{Enabled: c.Enabled, Addr: c.Addr}
}

// parseGroupLog parses "chatid" or "chatid:threadid".
func parseGroupLog(s string) (chatID int64, threadID int, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, false
	}
	chatPart, threadPart, hasThread := strings.Cut(s, ":")
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil || chatID == 0 {
		return 0, 0, false
	}
	if hasThread {
		t, err := strconv.Atoi(threadPart)
		if err != nil {
			return 0, 0, false
		}
		threadID = t
	}
	return chatID, threadID, true
}
