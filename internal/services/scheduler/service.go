package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"heraldbot/internal/dispatch"
	"heraldbot/internal/services/announce"
	logx "heraldbot/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string
	Jobs     []Job
}

// Job is one recurring announcement.
type Job struct {
	Name      string
	Spec      string
	ChatID    int64
	Text      string
	Anonymous bool
}

// Announcer is the slice of the announcement service the scheduler needs.
type Announcer interface {
	Announce(ctx context.Context, req announce.Request) (dispatch.Result, error)
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	runner Announcer
	log    logx.Logger

	parser cron.Parser
	c      *cron.Cron

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, runner Announcer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		runner: runner,
		log:    log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps the config. A running scheduler is restarted so job and
// timezone changes take effect.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	if s.c != nil {
		s.stopLocked()
		s.startLocked()
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.startLocked()
}

func (s *Service) Stop(ctx context.Context) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	if s.runCancel != nil {
		s.runCancel()
		s.runCtx, s.runCancel = nil, nil
	}
}

func (s *Service) startLocked() {
	if !s.cfg.Enabled {
		return
	}

	loc := time.Local
	if tz := strings.TrimSpace(s.cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Any("err", err))
		} else {
			loc = l
		}
	}

	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	registered := 0
	for _, job := range s.cfg.Jobs {
		job := job
		spec, err := NormalizeSpec(job.Spec)
		if err != nil {
			s.log.Warn("scheduled job skipped", logx.String("name", job.Name), logx.Any("err", err))
			continue
		}
		if _, err := s.c.AddFunc(spec, func() { s.fire(job) }); err != nil {
			s.log.Warn("scheduled job rejected", logx.String("name", job.Name), logx.String("spec", spec), logx.Any("err", err))
			continue
		}
		registered++
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("jobs", registered), logx.String("tz", loc.String()))
}

func (s *Service) stopLocked() {
	if s.c == nil {
		return
	}
	stopCtx := s.c.Stop()
	s.c = nil
	// Let in-flight job callbacks drain briefly.
	select {
	case <-stopCtx.Done():
	case <-time.After(time.Second):
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) fire(job Job) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return
	}

	res, err := s.runner.Announce(ctx, announce.Request{
		ChatID:    job.ChatID,
		From:      job.Name,
		Text:      job.Text,
		Anonymous: job.Anonymous,
	})
	switch {
	case errors.Is(err, announce.ErrNoRecipients):
		s.log.Debug("scheduled announcement skipped, no recipients", logx.String("name", job.Name))
	case err != nil:
		s.log.Warn("scheduled announcement failed", logx.String("name", job.Name), logx.Any("err", err))
	default:
		s.log.Info("scheduled announcement settled",
			logx.String("name", job.Name),
			logx.String("status", string(res.Status)),
			logx.Int("success", res.Success),
			logx.Int("fail", res.Fail))
	}
}
