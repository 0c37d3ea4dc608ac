// BSD 2-Clause License
//
// Copyright (c) 2020, Andrea Giacomo Baldan
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
//
// * Redistributions of source code must retain the above copyright notice, this
//   list of conditions and the following disclaimer.
//
// * Redistributions in binary form must reproduce the above copyright notice,
//   this list of conditions and the following disclaimer in the documentation
//   and/or other materials provided with the distribution.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE LIABLE
// FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR CONSEQUENTIAL
// DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER
// CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY,
// OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

// Package scheduler drives the submission lifecycle: a single loop that
// ingests pending work from the coordinator, advances every job through
// its state machine, and flushes finished verdicts back.
package scheduler

import (
	"context"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/codepr/debussy/internal/cache"
	"github.com/codepr/debussy/internal/engine"
	"github.com/codepr/debussy/internal/metrics"
	"github.com/codepr/debussy/internal/model"
	"github.com/codepr/debussy/internal/queue"
	"github.com/codepr/debussy/internal/workspace"
)

// Coordinator is the subset of internal/ravel.Client the scheduler
// drives directly (Ensure/FetchProblem go through Cache instead).
type Coordinator interface {
	PullPending(ctx context.Context) ([]model.Submission, error)
	PushResults(ctx context.Context, verdicts []model.Verdict) error
}

// Config bundles the scheduler's tunables (see internal/config.Config).
type Config struct {
	MaxJobs         int
	PollInterval    time.Duration
	WallDeadline    time.Duration
	StrictAdmission bool
	TickInterval    time.Duration

	Image string
}

// Scheduler owns the jobs mapping and drives it one tick at a time.
type Scheduler struct {
	cfg   Config
	ravel Coordinator
	cache *cache.Cache
	ws    *workspace.Manager
	eng   *engine.Client
	vq    queue.VerdictQueue
	log   *logrus.Entry

	jobs         map[int]*model.Job
	runningCount int
	lastPoll     time.Time
	draining     bool
}

// SetDraining stops Phase 1 from admitting new submissions, used during
// graceful shutdown so the loop only finishes work already in flight.
func (s *Scheduler) SetDraining(v bool) {
	s.draining = v
}

// New builds a Scheduler from its injected collaborators. The coordinator
// is an interface that tests can replace with a fake; the cache, workspace
// and engine client are concrete types, which tests build over temporary
// directories and an httptest server.
func New(cfg Config, ravel Coordinator, c *cache.Cache, ws *workspace.Manager, eng *engine.Client, vq queue.VerdictQueue, log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		cfg:   cfg,
		ravel: ravel,
		cache: c,
		ws:    ws,
		eng:   eng,
		vq:    vq,
		log:   log,
		jobs:  make(map[int]*model.Job),
	}
}

// Run executes the reconciliation loop at cfg.TickInterval until ctx is
// canceled, then returns once the final in-flight tick finishes.
func (s *Scheduler) Run(ctx context.Context) {
	interval := s.cfg.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one Ingest/Drive/Flush pass.
func (s *Scheduler) Tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	s.ingest(ctx)
	s.drive(ctx)
	s.flush(ctx)

	metrics.JobsRunning.Set(float64(s.runningCount))
}

// ingest is Phase 1: throttled pull from the coordinator, deduped on id.
func (s *Scheduler) ingest(ctx context.Context) {
	if s.draining {
		return
	}
	if time.Since(s.lastPoll) < s.cfg.PollInterval {
		return
	}
	s.lastPoll = time.Now()

	submissions, err := s.ravel.PullPending(ctx)
	if err != nil {
		s.log.WithError(err).Warn("pull_pending failed, continuing with in-flight jobs")
		return
	}
	for _, sub := range submissions {
		if _, exists := s.jobs[sub.Id]; exists {
			continue
		}
		s.jobs[sub.Id] = &model.Job{Submission: sub, State: model.Pending}
		metrics.JobsIngested.Inc()
	}
}

// drive is Phase 2: dispatch every job on its current state.
func (s *Scheduler) drive(ctx context.Context) {
	for id, job := range s.jobs {
		switch job.State {
		case model.Pending:
			s.drivePending(ctx, id, job)
		case model.Running:
			s.driveRunning(ctx, id, job)
			if job.State == model.Finished {
				s.driveFinished(id, job)
			}
		case model.Finished:
			s.driveFinished(id, job)
		}
	}
}

func (s *Scheduler) admitted() bool {
	if s.cfg.StrictAdmission {
		return s.runningCount < s.cfg.MaxJobs
	}
	return s.runningCount <= s.cfg.MaxJobs
}

func (s *Scheduler) drivePending(ctx context.Context, id int, job *model.Job) {
	if !s.admitted() {
		return
	}

	log := s.log.WithField("submission_id", id)

	sub := job.Submission
	inputPath, outputPath, err := s.cache.Ensure(ctx, sub.Problem, sub.InputSum, sub.OutputSum)
	if err != nil {
		log.WithError(err).Warn("problem cache ensure failed, retrying next tick")
		return
	}

	if err := s.ws.Stage(sub, inputPath, outputPath); err != nil {
		log.WithError(err).Warn("workspace stage failed, retrying next tick")
		return
	}

	name := model.ContainerName(sub.Id)
	opts := engine.CreateOptions{
		Image:           s.cfg.Image,
		Binds:           []string{s.ws.Dir(sub.Id) + ":/usr/src/debussy"},
		AutoRemove:      false,
		NetworkDisabled: true,
		Env:             []string{"TIMEOUT=" + strconv.Itoa(sub.Timeout)},
	}
	if _, err := s.eng.Create(ctx, opts, name); err != nil {
		log.WithError(err).Warn("container create failed, retrying next tick")
		return
	}
	if err := s.eng.Start(ctx, name); err != nil {
		log.WithError(err).Warn("container start failed, retrying next tick")
		return
	}

	s.runningCount++
	job.State = model.Running
	job.StartedAt = time.Now()
}

func (s *Scheduler) driveRunning(ctx context.Context, id int, job *model.Job) {
	log := s.log.WithField("submission_id", id)

	if s.ws.HasStatus(id) {
		job.State = model.Finished
		s.runningCount--
		return
	}

	if time.Since(job.StartedAt) < s.cfg.WallDeadline {
		return
	}

	name := model.ContainerName(id)
	if err := s.eng.Kill(ctx, name); err != nil && !engine.IsNoSuchContainer(err) && !engine.IsNotRunning(err) {
		log.WithError(err).Warn("kill on timeout failed")
	}
	if err := s.ws.WriteTimeout(id); err != nil {
		log.WithError(err).Error("writing timeout sentinel failed")
		return
	}
	metrics.JobsTimedOut.Inc()
}

func (s *Scheduler) driveFinished(id int, job *model.Job) {
	if job.Queued {
		return
	}

	log := s.log.WithField("submission_id", id)

	raw, err := s.ws.ReadStatus(id)
	if err != nil {
		log.WithError(err).Warn("reading status.txt failed, reverting to pending")
		job.State = model.Pending
		job.Attempts++
		return
	}
	result, ok := model.ParseJobResult(raw)
	if !ok {
		log.WithField("status", raw).Warn("unparseable status.txt, reverting to pending")
		job.State = model.Pending
		job.Attempts++
		return
	}

	metrics.JobsFinished.WithLabelValues(result.String()).Inc()
	verdict := model.NewVerdict(job.Submission.Id, result)
	if err := s.vq.Enqueue(verdict); err != nil {
		log.WithError(err).Error("enqueueing verdict failed, will retry next tick")
		return
	}
	job.Queued = true
}

// flush is Phase 3: drain the verdict queue and POST the batch.
func (s *Scheduler) flush(ctx context.Context) {
	batch := s.vq.Drain(0)
	if len(batch) == 0 {
		return
	}

	if err := s.ravel.PushResults(ctx, batch); err != nil {
		s.log.WithError(err).Warn("push_results failed, re-enqueueing batch for next tick")
		metrics.FlushFailures.Inc()
		for _, v := range batch {
			if err := s.vq.Enqueue(v); err != nil {
				s.log.WithError(err).Error("re-enqueueing verdict after failed flush failed")
			}
		}
		return
	}

	for _, v := range batch {
		if err := s.ws.Teardown(v.Id); err != nil {
			s.log.WithError(err).WithField("submission_id", v.Id).Warn("tearing down job dir failed")
		}
		delete(s.jobs, v.Id)
	}
}

// JobCount reports the current size of the jobs mapping, for tests and
// health reporting.
func (s *Scheduler) JobCount() int {
	return len(s.jobs)
}

// KillRunning sends a kill to every job still in the Running state. Called
// once the shutdown grace period expires so no sandbox container is left
// behind after the process exits.
func (s *Scheduler) KillRunning(ctx context.Context) {
	for id, job := range s.jobs {
		if job.State != model.Running {
			continue
		}
		name := model.ContainerName(id)
		if err := s.eng.Kill(ctx, name); err != nil && !engine.IsNoSuchContainer(err) && !engine.IsNotRunning(err) {
			s.log.WithField("submission_id", id).WithError(err).Warn("kill on shutdown failed")
		}
	}
}
