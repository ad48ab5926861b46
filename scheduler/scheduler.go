// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

// Package scheduler runs queued transcriptions in the background, never more
// than a configured number at a time.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gauthier-th/whisper-dashboard/engine"
	"github.com/gauthier-th/whisper-dashboard/metrics"
	"github.com/gauthier-th/whisper-dashboard/store"
	"github.com/gauthier-th/whisper-dashboard/transcript"
)

const defaultPollInterval = 30 * time.Second

// Store is the part of the transcription store the scheduler needs.
type Store interface {
	Get(ctx context.Context, id int64) (*store.Transcription, error)
	Count(ctx context.Context, opts store.ListOptions) (int, error)
	Pending(ctx context.Context, limit int) ([]store.Transcription, error)
	Claim(ctx context.Context, id int64) (bool, error)
	Complete(ctx context.Context, id int64, formats []string) error
	Fail(ctx context.Context, id int64, msg string) error
	Requeue(ctx context.Context, id int64) error
	RequeueProcessing(ctx context.Context) (int64, error)
}

type Options struct {
	MaxParallel  int
	PollInterval time.Duration
	FilesDir     string
	Model        string
	ModelDir     string
	Language     string // used when a job does not name one
}

// Hook is called with the current row after every status change.
type Hook func(store.Transcription)

type Stats struct {
	Running     []int64 `json:"running"`
	MaxParallel int     `json:"max_parallel"`
	Pending     int     `json:"pending"`
}

type Scheduler struct {
	store  Store
	engine engine.Engine
	opts   Options
	hooks  []Hook
	logger *slog.Logger

	wake chan struct{}

	mu       sync.Mutex
	running  map[int64]context.CancelFunc
	stopping bool
	wg       sync.WaitGroup
}

func New(st Store, eng engine.Engine, opts Options, hooks ...Hook) *Scheduler {
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return &Scheduler{
		store:   st,
		engine:  eng,
		opts:    opts,
		hooks:   hooks,
		logger:  slog.With("component", "scheduler"),
		wake:    make(chan struct{}, 1),
		running: make(map[int64]context.CancelFunc),
	}
}

// Run processes the queue until ctx is cancelled. Jobs still running at that
// point are cancelled and put back in the queue before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	n, err := s.store.RequeueProcessing(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("requeued interrupted transcriptions", "count", n)
	}
	s.logger.Info("scheduler started", "max_parallel", s.opts.MaxParallel, "poll_interval", s.opts.PollInterval)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		s.drain(ctx)

		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-s.wake:
		case <-ticker.C:
		}
	}
}

// Trigger asks the scheduler to look at the queue now. It never blocks;
// triggers arriving while one is pending are merged.
func (s *Scheduler) Trigger() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel stops the job for id if it is running.
func (s *Scheduler) Cancel(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.running[id]
	if ok {
		cancel()
	}
	return ok
}

// Running returns the ids of the jobs in progress, lowest first.
func (s *Scheduler) Running() []int64 {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	pending, err := s.store.Count(ctx, store.ListOptions{Status: store.StatusPending})
	if err != nil {
		return Stats{}, err
	}
	return Stats{Running: s.Running(), MaxParallel: s.opts.MaxParallel, Pending: pending}, nil
}

// drain starts as many pending jobs as there are free slots. It is only
// called from the Run loop, so the running set can shrink but never grow
// underneath it.
func (s *Scheduler) drain(ctx context.Context) {
	defer s.updateQueueDepth(ctx)

	s.mu.Lock()
	free := s.opts.MaxParallel - len(s.running)
	s.mu.Unlock()
	if free <= 0 {
		return
	}

	rows, err := s.store.Pending(ctx, free)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to read queue", "error", err)
		}
		return
	}

	for _, t := range rows {
		claimed, err := s.store.Claim(ctx, t.ID)
		if err != nil {
			s.logger.Error("failed to claim transcription", "id", t.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		s.start(t)
	}
}

func (s *Scheduler) start(t store.Transcription) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.running[t.ID] = cancel
	metrics.RunningJobs.Set(float64(len(s.running)))
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.running, t.ID)
			metrics.RunningJobs.Set(float64(len(s.running)))
			s.mu.Unlock()
			s.Trigger()
		}()
		s.process(ctx, t)
	}()
}

func (s *Scheduler) process(ctx context.Context, t store.Transcription) {
	logger := s.logger.With("id", t.ID, "file", t.Path)
	s.notify(t.ID)

	lang := engine.NormalizeLanguage(t.Language)
	if lang == "" {
		lang = s.opts.Language
	}

	logger.Info("transcription started", "language", lang)
	start := time.Now()
	res, err := s.engine.Transcribe(ctx, engine.Request{
		Input:     filepath.Join(s.opts.FilesDir, t.Path),
		OutputDir: s.opts.FilesDir,
		Model:     s.opts.Model,
		ModelDir:  s.opts.ModelDir,
		Language:  lang,
	})
	elapsed := time.Since(start)
	metrics.TranscriptionDuration.WithLabelValues(s.engine.Name()).Observe(elapsed.Seconds())

	// The job context is gone by now; results are recorded regardless.
	bg := context.Background()
	var outcome string
	switch {
	case err == nil:
		outcome = string(store.StatusDone)
		err = s.store.Complete(bg, t.ID, res.Formats)
	case ctx.Err() != nil && s.isStopping():
		outcome = "requeued"
		err = s.store.Requeue(bg, t.ID)
	case ctx.Err() != nil:
		outcome = "cancelled"
		err = s.store.Fail(bg, t.ID, "transcription cancelled")
	default:
		logger.Error("transcription failed", "error", err, "elapsed", elapsed)
		outcome = string(store.StatusError)
		err = s.store.Fail(bg, t.ID, err.Error())
	}

	if errors.Is(err, store.ErrNotFound) {
		logger.Info("transcription deleted while running, discarding result")
		s.removeTranscripts(t.Path, res.Formats)
		return
	}
	if err != nil {
		logger.Error("failed to record transcription result", "outcome", outcome, "error", err)
		return
	}

	metrics.TranscriptionJobs.WithLabelValues(outcome, s.engine.Name()).Inc()
	if outcome == string(store.StatusDone) {
		logger.Info("transcription finished", "formats", res.Formats, "elapsed", elapsed)
	}
	// Cancellation comes from a delete, which announces the removal itself.
	if outcome != "cancelled" {
		s.notify(t.ID)
	}
}

func (s *Scheduler) removeTranscripts(path string, formats []string) {
	for _, format := range formats {
		name := filepath.Join(s.opts.FilesDir, transcript.FileFor(path, format))
		if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove orphaned transcript", "file", name, "error", err)
		}
	}
}

func (s *Scheduler) notify(id int64) {
	if len(s.hooks) == 0 {
		return
	}
	t, err := s.store.Get(context.Background(), id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to load transcription for notification", "id", id, "error", err)
		}
		return
	}
	for _, hook := range s.hooks {
		hook(*t)
	}
}

func (s *Scheduler) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

func (s *Scheduler) shutdown() {
	s.mu.Lock()
	s.stopping = true
	for _, cancel := range s.running {
		cancel()
	}
	n := len(s.running)
	s.mu.Unlock()

	if n > 0 {
		s.logger.Info("waiting for running transcriptions to stop", "count", n)
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) updateQueueDepth(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := s.store.Count(ctx, store.ListOptions{Status: store.StatusPending})
	if err != nil {
		s.logger.Warn("failed to count pending transcriptions", "error", err)
		return
	}
	metrics.QueueDepth.Set(float64(n))
}
