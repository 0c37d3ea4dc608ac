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

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/codepr/debussy/internal/cache"
	"github.com/codepr/debussy/internal/config"
	"github.com/codepr/debussy/internal/engine"
	"github.com/codepr/debussy/internal/logging"
	"github.com/codepr/debussy/internal/metrics"
	"github.com/codepr/debussy/internal/queue"
	"github.com/codepr/debussy/internal/ravel"
	"github.com/codepr/debussy/internal/scheduler"
	"github.com/codepr/debussy/internal/workspace"
)

var (
	configFile string
	image      string
)

func main() {
	flag.StringVar(&configFile, "config", "", "Optional YAML overlay for non-secret tunables")
	flag.StringVar(&image, "image", "reverie_test:latest", "Sandbox image to run each submission in")
	flag.Parse()

	cfg, err := config.Load(configFile)
	if err != nil {
		logrus.WithError(err).Fatal("loading configuration")
	}

	log := logging.New(cfg.LogLevel)

	if err := bootstrapDirs(cfg); err != nil {
		log.WithError(err).Fatal("bootstrapping problems/jobs directories")
	}

	vq, err := buildVerdictQueue(cfg)
	if err != nil {
		log.WithError(err).Fatal("building verdict queue")
	}
	defer vq.Close()

	ravelClient := ravel.New(cfg.RavelURL, ravel.Credentials{
		Username: cfg.RavelUsername,
		Password: cfg.RavelPassword,
	}, nil)
	engineClient := engine.New(cfg.EngineURL, nil)
	problemCache := cache.New(cfg.ProblemsDir, ravelClient)
	ws := workspace.New(cfg.JobsDir)

	sched := scheduler.New(scheduler.Config{
		MaxJobs:         cfg.MaxJobs,
		PollInterval:    cfg.PollInterval,
		WallDeadline:    cfg.WallDeadline,
		StrictAdmission: cfg.StrictAdmission,
		TickInterval:    time.Second,
		Image:           image,
	}, ravelClient, problemCache, ws, engineClient, vq, log)

	metricsServer := metrics.NewServer(cfg.MetricsAddr)
	if metricsServer != nil {
		go func() {
			if err := <-metricsServer.Start(); err != nil {
				log.WithError(err).Error("metrics server exited")
			}
		}()
	}
	metrics.SetReady(true)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"max_jobs":      cfg.MaxJobs,
		"poll_interval": cfg.PollInterval,
		"wall_deadline": cfg.WallDeadline,
	}).Info("starting debussyd")

	sched.Run(ctx)

	log.Info("shutdown signal received, draining")
	sched.SetDraining(true)
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	drain(drainCtx, sched, log)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	log.Info("debussyd stopped")
}

// bootstrapDirs ensures problems/ exists and wipes jobs/ per §6's startup
// contract: no persistence across restarts for in-flight jobs, but the
// content-addressed problem cache survives.
func bootstrapDirs(cfg config.Config) error {
	if err := os.MkdirAll(cfg.ProblemsDir, 0o755); err != nil {
		return err
	}
	if err := os.RemoveAll(cfg.JobsDir); err != nil {
		return err
	}
	return os.MkdirAll(cfg.JobsDir, 0o755)
}

func buildVerdictQueue(cfg config.Config) (queue.VerdictQueue, error) {
	switch cfg.VerdictQueue {
	case "amqp":
		return queue.NewAMQPQueue(cfg.AMQPURL, "debussy.verdicts")
	default:
		return queue.NewMemoryQueue(1024), nil
	}
}

// drain keeps ticking the scheduler (without admitting new work) until
// the jobs mapping is empty or the grace period expires. On expiry it
// kills every container still Running and returns without a further
// flush.
func drain(ctx context.Context, sched *scheduler.Scheduler, log *logrus.Entry) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if sched.JobCount() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			log.WithField("remaining_jobs", sched.JobCount()).Warn("drain grace period expired with jobs still in flight, killing running containers")
			killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			sched.KillRunning(killCtx)
			cancel()
			return
		case <-ticker.C:
			sched.Tick(ctx)
		}
	}
}
