package announce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"heraldbot/internal/dispatch"
	"heraldbot/internal/eventbus"
	"heraldbot/internal/storage"
	logx "heraldbot/pkg/logx"
)

// Deps are the collaborators the service needs. Store and Bus may be nil.
type Deps struct {
	Limiter   *dispatch.Limiter
	Directory Directory
	Confirmer Confirmer
	Sender    dispatch.Sender
	Store     storage.Store
	Bus       eventbus.Bus
	Log       logx.Logger
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	limiter    *dispatch.Limiter
	directory  Directory
	confirmer  Confirmer
	dispatcher *dispatch.Dispatcher
	store      storage.Store
	bus        eventbus.Bus
	log        logx.Logger

	runMu     sync.Mutex
	runCtx    context.Context
	runCancel context.CancelFunc

	statusMu sync.RWMutex
	status   map[string]*JobStatus
	cancels  map[string]context.CancelFunc
}

func New(cfg Config, deps Deps) *Service {
	cfg = cfg.withDefaults()
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	d := dispatch.New(dispatch.Config{
		BatchSize:   cfg.BatchSize,
		RetrySlack:  cfg.RetrySlack,
		BatchDelay:  cfg.BatchDelay,
		SendTimeout: cfg.SendTimeout,
	}, deps.Limiter, deps.Sender, log)

	return &Service{
		cfg:        cfg,
		limiter:    deps.Limiter,
		directory:  deps.Directory,
		confirmer:  deps.Confirmer,
		dispatcher: d,
		store:      deps.Store,
		bus:        deps.Bus,
		log:        log,
		status:     map[string]*JobStatus{},
		cancels:    map[string]context.CancelFunc{},
	}
}

// Enabled reports the current config flag. (Thread-safe; Apply may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps the service config. Jobs already running keep their pacing;
// the new values take effect for jobs submitted afterwards.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.runCtx != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.log.Info("service started",
		logx.Int("batch_size", s.cfg.BatchSize),
		logx.Int("rate_capacity", s.cfg.RateCapacity),
		logx.Duration("rate_window", s.cfg.RateWindow))
}

// Stop cancels every running job and rejects new ones until Start.
func (s *Service) Stop(ctx context.Context) {
	_ = ctx
	s.runMu.Lock()
	cancel := s.runCancel
	s.runCtx, s.runCancel = nil, nil
	s.runMu.Unlock()
	if cancel != nil {
		cancel()
		s.log.Info("service stopped")
	}
}

// Announce runs one announcement job to completion and returns its result.
// It blocks for the whole job; callers that need to stay responsive run it
// on their own goroutine and watch progress via Request.OnProgress.
func (s *Service) Announce(ctx context.Context, req Request) (dispatch.Result, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if !cfg.Enabled {
		return dispatch.Result{}, ErrDisabled
	}

	s.runMu.Lock()
	runCtx := s.runCtx
	s.runMu.Unlock()
	if runCtx == nil {
		return dispatch.Result{}, ErrNotRunning
	}

	recipients, err := s.directory.Members(ctx, req.ChatID)
	if err != nil {
		return dispatch.Result{}, fmt.Errorf("%w: %w", ErrRecipientFetch, err)
	}
	if len(recipients) == 0 {
		return dispatch.Result{}, ErrNoRecipients
	}

	now := time.Now()
	id := fmt.Sprintf("an:%d", now.UnixNano())
	s.pruneStatus(now)

	// The job context links three cancellation sources: the per-job cancel
	// (CancelJob), the service-wide scope (Stop / CancelAll) and the
	// caller's context.
	jobCtx, jobCancel := context.WithCancel(runCtx)
	stopWatch := context.AfterFunc(ctx, jobCancel)
	defer stopWatch()
	defer jobCancel()

	st := &JobStatus{
		ID:      id,
		ChatID:  req.ChatID,
		ActorID: req.ActorID,
		Progress: dispatch.Progress{
			Pending: len(recipients),
			Total:   len(recipients),
		},
		StartedAt: now,
	}
	s.statusMu.Lock()
	s.status[id] = st
	s.cancels[id] = jobCancel
	s.statusMu.Unlock()
	defer func() {
		s.statusMu.Lock()
		delete(s.cancels, id)
		s.statusMu.Unlock()
	}()

	if len(recipients) > cfg.ConfirmThreshold && s.confirmer != nil {
		res, proceed := s.confirmGate(jobCtx, cfg, id, req, len(recipients))
		if !proceed {
			s.finalize(id, req, res, now)
			return res, nil
		}
	}

	s.setRunning(id, true)
	s.publish("announce.started", map[string]any{"job": id, "chat": req.ChatID, "total": len(recipients)})
	s.log.Info("announcement started",
		logx.String("job", id),
		logx.Int64("chat", req.ChatID),
		logx.Int("recipients", len(recipients)))

	job := dispatch.Job{
		ID:         id,
		Recipients: recipients,
		Text:       req.Text,
		Anonymous:  req.Anonymous,
		From:       req.From,
		OnProgress: func(p dispatch.Progress) {
			s.setProgress(id, p)
			s.publish("announce.batch", map[string]any{"job": id, "success": p.Success, "fail": p.Fail, "pending": p.Pending})
			if req.OnProgress != nil {
				req.OnProgress(p)
			}
		},
		OnOutcome: func(o dispatch.Outcome) {
			if o.Err == nil || s.store == nil {
				return
			}
			pctx, cancel := context.WithTimeout(context.WithoutCancel(jobCtx), time.Second)
			defer cancel()
			if err := s.store.AppendFailure(pctx, storage.DeliveryFailure{
				JobID:  id,
				UserID: o.Recipient.UserID,
				Reason: o.Err.Error(),
				At:     o.At,
			}); err != nil {
				s.log.Debug("failure audit write failed", logx.Any("err", err))
			}
		},
	}

	res := s.dispatcher.Run(jobCtx, job)
	s.finalize(id, req, res, now)

	event := "announce.finished"
	if res.Status == dispatch.StatusCanceled {
		event = "announce.canceled"
	}
	s.publish(event, map[string]any{"job": id, "success": res.Success, "fail": res.Fail, "pending": res.Pending})
	return res, nil
}

// confirmGate asks the operator whether a large job may run. It returns
// proceed=false with a zero-delivery result when the job must not start.
func (s *Service) confirmGate(ctx context.Context, cfg Config, id string, req Request, total int) (dispatch.Result, bool) {
	cctx, cancel := context.WithTimeout(ctx, cfg.ConfirmTimeout)
	defer cancel()

	decision, err := s.confirmer.Confirm(cctx, ConfirmRequest{
		JobID:      id,
		ChatID:     req.ChatID,
		Recipients: total,
		Preview:    req.Text,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			decision = DecisionTimedOut
		} else {
			// Treat confirmation transport errors as a decline; a job this
			// large must never start on an unconfirmed prompt.
			s.log.Warn("confirmation failed", logx.String("job", id), logx.Any("err", err))
			decision = DecisionDeclined
		}
	}

	switch decision {
	case DecisionConfirmed:
		return dispatch.Result{}, true
	case DecisionTimedOut:
		s.log.Info("announcement aborted, confirmation timed out", logx.String("job", id))
		return dispatch.Result{Pending: total, Total: total, Status: dispatch.StatusConfirmTimeout}, false
	default:
		s.log.Info("announcement declined", logx.String("job", id))
		return dispatch.Result{Pending: total, Total: total, Status: dispatch.StatusCanceled}, false
	}
}

func (s *Service) finalize(id string, req Request, res dispatch.Result, startedAt time.Time) {
	done := time.Now()
	s.statusMu.Lock()
	if st := s.status[id]; st != nil {
		st.Running = false
		st.Status = res.Status
		st.Progress = res.Progress()
		st.DoneAt = done
	}
	s.statusMu.Unlock()

	if s.store != nil {
		pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.store.AppendJob(pctx, storage.JobRecord{
			ID:         id,
			ChatID:     req.ChatID,
			ActorID:    req.ActorID,
			Status:     string(res.Status),
			Total:      res.Total,
			Success:    res.Success,
			Fail:       res.Fail,
			Pending:    res.Pending,
			StartedAt:  startedAt,
			FinishedAt: done,
		}); err != nil {
			s.log.Warn("job audit write failed", logx.String("job", id), logx.Any("err", err))
		}
	}

	s.log.Info("announcement settled",
		logx.String("job", id),
		logx.String("status", string(res.Status)),
		logx.Int("success", res.Success),
		logx.Int("fail", res.Fail),
		logx.Int("pending", res.Pending),
		logx.Duration("took", done.Sub(startedAt)))
}

func (s *Service) setRunning(id string, v bool) {
	s.statusMu.Lock()
	if st := s.status[id]; st != nil {
		st.Running = v
	}
	s.statusMu.Unlock()
}

func (s *Service) setProgress(id string, p dispatch.Progress) {
	s.statusMu.Lock()
	if st := s.status[id]; st != nil {
		st.Progress = p
	}
	s.statusMu.Unlock()
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
