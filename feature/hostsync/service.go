package hostsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"lms-zabbix-sync/core/buffer"
	"lms-zabbix-sync/core/config"
	"lms-zabbix-sync/core/event"
	"lms-zabbix-sync/core/logger"
	"lms-zabbix-sync/core/metrics"
	"lms-zabbix-sync/core/queue"
	"lms-zabbix-sync/core/reconcile"
	"lms-zabbix-sync/core/storage"
	"lms-zabbix-sync/core/zabbix"
	"lms-zabbix-sync/feature/journal"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// sideEffectTimeout bounds journal and archive writes.
const sideEffectTimeout = 5 * time.Second

// Recorder journals sync outcomes. *journal.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// DeadLetters keeps messages that were given up on. *storage.Archive satisfies it.
type DeadLetters interface {
	Put(ctx context.Context, dl storage.DeadLetter) (string, error)
}

// Option configures a Service.
type Option func(*Service)

// WithJournal records every outcome in r.
func WithJournal(r Recorder) Option {
	return func(s *Service) {
		s.journal = r
	}
}

// WithDeadLetters archives malformed and rejected messages in d.
func WithDeadLetters(d DeadLetters) Option {
	return func(s *Service) {
		s.deadLetters = d
	}
}

// WithMetrics counts outcomes in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Service) {
		s.metrics = c
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service moves trigger messages through the buffer and the reconciliation
// engine into Zabbix. Messages for one device are handled by one worker, in
// the order they were received.
type Service struct {
	cfg     config.SyncConfig
	buffer  *buffer.Buffer
	engine  *reconcile.Engine
	mutator reconcile.Mutator
	logger  *zap.Logger

	journal     Recorder
	deadLetters DeadLetters
	metrics     *metrics.Collector
	now         func() time.Time
}

// NewService creates the orchestrator.
func NewService(cfg config.SyncConfig, buf *buffer.Buffer, engine *reconcile.Engine, mutator reconcile.Mutator, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		cfg:     cfg,
		buffer:  buf,
		engine:  engine,
		mutator: mutator,
		logger:  logger,
		metrics: metrics.NewCollector(nil),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.Workers <= 0 {
		s.cfg.Workers = 1
	}
	if s.cfg.ApplyTimeout <= 0 {
		s.cfg.ApplyTimeout = 30 * time.Second
	}
	if s.cfg.RetryDelay <= 0 {
		s.cfg.RetryDelay = 5 * time.Second
	}
	if s.cfg.MaxRetryDelay <= 0 {
		s.cfg.MaxRetryDelay = time.Minute
	}
	s.cfg.MaxRetryDelay = max(s.cfg.MaxRetryDelay, s.cfg.RetryDelay)
	return s
}

// Buffer returns the pending-record buffer.
func (s *Service) Buffer() *buffer.Buffer {
	return s.buffer
}

// Workers returns the number of partition workers.
func (s *Service) Workers() int {
	return s.cfg.Workers
}

type job struct {
	msg queue.Message
	ev  event.ChangeEvent
	log *zap.Logger
}

// Run handles messages from in until ctx is cancelled or in is closed. It
// starts one dispatcher, cfg.Workers workers and the stale-record evictor.
func (s *Service) Run(ctx context.Context, in <-chan queue.Message) error {
	g, ctx := errgroup.WithContext(ctx)

	lanes := make([]chan job, s.cfg.Workers)
	for i := range lanes {
		lanes[i] = make(chan job, 1)
	}

	g.Go(func() error {
		defer func() {
			for _, lane := range lanes {
				close(lane)
			}
		}()
		return s.dispatch(ctx, in, lanes)
	})

	var workers sync.WaitGroup
	for i, lane := range lanes {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			s.work(ctx, i, lane)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()
	g.Go(func() error {
		s.evictLoop(ctx, done)
		return nil
	})

	s.logger.Info("Sync service started",
		zap.Int("workers", s.cfg.Workers),
		zap.Duration("max_age", s.cfg.MaxAge),
		zap.Duration("evict_interval", s.cfg.EvictInterval))

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.logger.Info("Sync service stopped", zap.Int("pending", s.buffer.Len()))
	return err
}

func (s *Service) dispatch(ctx context.Context, in <-chan queue.Message, lanes []chan job) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			j, ok := s.decode(ctx, msg)
			if !ok {
				continue
			}
			lane := lanes[buffer.Partition(j.ev.DeviceID, len(lanes))]
			select {
			case lane <- j:
			case <-ctx.Done():
				s.requeue(j.log, msg)
				return nil
			}
		}
	}
}

func (s *Service) work(ctx context.Context, index int, lane <-chan job) {
	for j := range lane {
		if ctx.Err() != nil {
			s.requeue(j.log, j.msg)
			continue
		}
		s.process(ctx, j)
	}
	s.logger.Debug("Worker stopped", zap.Int("worker", index))
}

// decode turns a message into a job. Malformed messages are acknowledged,
// archived and journaled here and never reach a worker.
func (s *Service) decode(ctx context.Context, msg queue.Message) (job, bool) {
	l := logger.ForMessage(s.logger, msg.ID())

	ev, err := event.Decode(msg.Body(), s.now())
	if err != nil {
		l.Error("Discarding malformed message", zap.Error(err), zap.ByteString("body", msg.Body()))
		s.metrics.Message(metrics.OutcomeMalformed)
		s.archive(ctx, l, storage.DeadLetter{
			MessageID: msg.ID(),
			Reason:    storage.ReasonMalformed,
			Error:     err.Error(),
			Body:      msg.Body(),
		})
		s.record(ctx, l, journal.Entry{
			MessageID: msg.ID(),
			Outcome:   journal.OutcomeDropped,
			Reason:    storage.ReasonMalformed,
			Error:     err.Error(),
		})
		s.ack(l, msg)
		return job{}, false
	}

	l = l.With(zap.Int64("device_id", ev.DeviceID), zap.String("kind", string(ev.Kind)))
	if msg.Redelivered() {
		l = l.With(zap.Bool("redelivered", true))
		l.Info("Handling redelivered message")
	}
	return job{msg: msg, ev: ev, log: l}, true
}

// HandleMessage decodes and processes one message synchronously.
func (s *Service) HandleMessage(ctx context.Context, msg queue.Message) {
	if j, ok := s.decode(ctx, msg); ok {
		s.process(ctx, j)
	}
}

func (s *Service) process(ctx context.Context, j job) {
	res := s.buffer.Merge(j.ev)
	j.log.Debug("Merged event",
		zap.String("status", string(res.Status)),
		zap.Any("missing", res.Missing))

	switch res.Status {
	case buffer.Completed:
		rec := *res.Record
		s.reconcileAndApply(ctx, j, &rec, func(ctx context.Context) (reconcile.Decision, error) {
			return s.engine.Reconcile(ctx, rec)
		})

	case buffer.Deleted:
		s.reconcileAndApply(ctx, j, nil, func(ctx context.Context) (reconcile.Decision, error) {
			return s.engine.ReconcileDelete(ctx, j.ev.DeviceID)
		})

	case buffer.Incomplete:
		switch {
		case j.ev.Kind == event.KindNodeDelete:
			s.reconcileAndApply(ctx, j, nil, func(ctx context.Context) (reconcile.Decision, error) {
				return s.engine.ReconcileNodeRemoval(ctx, j.ev)
			})
		case j.ev.Op == event.OpUpdate || j.ev.Kind == event.KindNodeUpsert:
			s.backfill(ctx, j)
		default:
			s.incomplete(j, res.Missing)
		}
	}
}

// backfill completes a record for a host that already exists from the host's
// current state, so updates reach existing hosts without waiting for every field.
func (s *Service) backfill(ctx context.Context, j job) {
	var host *zabbix.Host
	err := s.retry(ctx, j, func(ctx context.Context) error {
		var err error
		host, err = s.engine.Lookup(ctx, j.ev.DeviceID)
		return err
	})
	if err != nil {
		s.fail(ctx, j, reconcile.Decision{DeviceID: j.ev.DeviceID}, nil, err)
		return
	}
	if host == nil {
		s.incomplete(j, nil)
		return
	}

	device, node := reconcile.FieldsFromHost(host)
	res := s.buffer.Backfill(j.ev.DeviceID, device, node)
	if res.Status != buffer.Completed {
		s.incomplete(j, res.Missing)
		return
	}

	rec := *res.Record
	s.reconcileAndApply(ctx, j, &rec, func(ctx context.Context) (reconcile.Decision, error) {
		return s.engine.Reconcile(ctx, rec)
	})
}

func (s *Service) incomplete(j job, missing []event.Field) {
	j.log.Debug("Record incomplete, waiting for more fields", zap.Any("missing", missing))
	s.metrics.Message(metrics.OutcomeIncomplete)
	s.ack(j.log, j.msg)
}

func (s *Service) reconcileAndApply(ctx context.Context, j job, restore *buffer.PendingRecord, decide func(context.Context) (reconcile.Decision, error)) {
	start := s.now()
	var (
		d      reconcile.Decision
		hostID string
	)
	// Each attempt decides again, so a retry sees the host as it is now.
	err := s.retry(ctx, j, func(ctx context.Context) error {
		var err error
		d, err = decide(ctx)
		if err != nil {
			d = reconcile.Decision{DeviceID: j.ev.DeviceID}
			return err
		}
		hostID, err = reconcile.Apply(ctx, s.mutator, d)
		return err
	})
	if err != nil {
		s.fail(ctx, j, d, restore, err)
		return
	}
	took := s.now().Sub(start)

	if d.Restore != nil {
		s.buffer.Restore(*d.Restore)
	}

	outcome := journal.OutcomeApplied
	if d.Action == reconcile.ActionNoop {
		outcome = journal.OutcomeNoop
		s.metrics.Message(metrics.OutcomeNoop)
	} else {
		s.metrics.Message(metrics.OutcomeApplied)
	}
	s.metrics.Action(string(d.Action), took)

	j.log.Info("Host synchronized",
		zap.String("action", string(d.Action)),
		zap.String("host_id", hostID),
		zap.String("reason", d.Reason),
		zap.Duration("took", took))

	s.record(ctx, j.log, journal.Entry{
		MessageID: j.msg.ID(),
		DeviceID:  j.ev.DeviceID,
		Kind:      string(j.ev.Kind),
		Action:    string(d.Action),
		Outcome:   outcome,
		HostID:    hostID,
		Reason:    d.Reason,
	})
	s.ack(j.log, j.msg)
}

// retry runs op until it succeeds, Zabbix rejects the change or ctx ends.
// Transient failures are retried in place with exponential backoff, so later
// messages for the device wait in the lane behind this one.
func (s *Service) retry(ctx context.Context, j job, op func(context.Context) error) error {
	delay := s.cfg.RetryDelay
	for attempt := 1; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, s.cfg.ApplyTimeout)
		err := op(actx)
		cancel()
		if err == nil || zabbix.IsPermanent(err) || ctx.Err() != nil {
			return err
		}

		j.log.Warn("Sync failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("retry_delay", delay))
		s.metrics.Retry()

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		delay = min(delay*2, s.cfg.MaxRetryDelay)
	}
}

// fail settles a message whose decision could not be made or applied.
// API rejections are dropped. Anything else only gets here when the service
// is stopping, and goes back to the queue.
func (s *Service) fail(ctx context.Context, j job, d reconcile.Decision, restore *buffer.PendingRecord, err error) {
	entry := journal.Entry{
		MessageID: j.msg.ID(),
		DeviceID:  j.ev.DeviceID,
		Kind:      string(j.ev.Kind),
		Action:    string(d.Action),
		HostID:    d.HostID,
		Reason:    d.Reason,
		Error:     err.Error(),
	}

	if zabbix.IsPermanent(err) {
		j.log.Error("Zabbix rejected change, dropping message",
			zap.String("action", string(d.Action)),
			zap.Error(err))
		s.metrics.Message(metrics.OutcomeDropped)
		entry.Outcome = journal.OutcomeDropped
		s.record(ctx, j.log, entry)
		s.archive(ctx, j.log, storage.DeadLetter{
			MessageID: j.msg.ID(),
			Reason:    storage.ReasonRejected,
			Error:     err.Error(),
			DeviceID:  j.ev.DeviceID,
			Body:      j.msg.Body(),
		})
		s.ack(j.log, j.msg)
		return
	}

	if restore != nil {
		s.buffer.Restore(*restore)
	}
	j.log.Warn("Sync interrupted, requeueing message", zap.Error(err))
	s.metrics.Message(metrics.OutcomeRequeued)
	entry.Outcome = journal.OutcomeRequeued
	s.record(ctx, j.log, entry)
	s.requeue(j.log, j.msg)
}

func (s *Service) evictLoop(ctx context.Context, done <-chan struct{}) {
	interval := s.cfg.EvictInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.EvictStale(ctx)
		}
	}
}

// EvictStale drops pending records that have not been updated within MaxAge.
func (s *Service) EvictStale(ctx context.Context) []int64 {
	evicted := s.buffer.EvictStale(s.cfg.MaxAge)
	if len(evicted) == 0 {
		return nil
	}

	s.logger.Warn("Buffer overflow: dropping stale pending records",
		zap.Int("count", len(evicted)),
		zap.Int64s("device_ids", evicted),
		zap.Duration("max_age", s.cfg.MaxAge))
	s.metrics.Evicted(len(evicted))
	for _, id := range evicted {
		s.record(ctx, s.logger, journal.Entry{
			DeviceID: id,
			Outcome:  journal.OutcomeEvicted,
			Reason:   "pending record expired",
		})
	}
	return evicted
}

func (s *Service) record(ctx context.Context, l *zap.Logger, e journal.Entry) {
	if s.journal == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if err := s.journal.Record(wctx, e); err != nil {
		l.Warn("Failed to write journal entry", zap.Error(err))
	}
}

func (s *Service) archive(ctx context.Context, l *zap.Logger, dl storage.DeadLetter) {
	if s.deadLetters == nil {
		return
	}
	if dl.ArchivedAt.IsZero() {
		dl.ArchivedAt = s.now().UTC()
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	key, err := s.deadLetters.Put(wctx, dl)
	if err != nil {
		l.Warn("Failed to archive dead letter", zap.Error(err))
		return
	}
	l.Info("Archived dead letter", zap.String("key", key))
}

func (s *Service) ack(l *zap.Logger, msg queue.Message) {
	if err := msg.Ack(); err != nil {
		l.Warn("Failed to acknowledge message", zap.Error(err))
	}
}

func (s *Service) requeue(l *zap.Logger, msg queue.Message) {
	if err := msg.Nack(true); err != nil {
		l.Warn("Failed to requeue message", zap.Error(err))
	}
}
