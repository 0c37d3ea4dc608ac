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

// Package config loads the daemon's tunables from the environment and,
// optionally, a YAML overlay file for the non-secret settings.
// Credentials are always environment-only.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config is the daemon's full set of runtime settings.
type Config struct {
	RavelURL      string
	RavelUsername string
	RavelPassword string
	MaxJobs       int

	EngineURL string

	PollInterval    time.Duration
	WallDeadline    time.Duration
	ShutdownGrace   time.Duration
	StrictAdmission bool

	LogLevel    string
	MetricsAddr string

	VerdictQueue string
	AMQPURL      string

	ProblemsDir string
	JobsDir     string
}

// overlay is the shape of the optional YAML file: only non-secret,
// infrastructure-agnostic tunables belong here.
type overlay struct {
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	WallDeadlineMinutes int    `yaml:"wall_deadline_minutes"`
	EngineURL           string `yaml:"engine_url"`
}

func defaults() Config {
	return Config{
		EngineURL:       "http://localhost:2375",
		PollInterval:    2 * time.Second,
		WallDeadline:    10 * time.Minute,
		ShutdownGrace:   30 * time.Second,
		StrictAdmission: false,
		LogLevel:        "info",
		MetricsAddr:     ":9090",
		VerdictQueue:    "memory",
		ProblemsDir:     "problems",
		JobsDir:         "jobs",
	}
}

// Load reads required secrets and settings from the environment, then
// applies an optional YAML overlay at yamlPath (ignored if empty or
// absent) for the tunables it carries.
func Load(yamlPath string) (Config, error) {
	cfg := defaults()

	cfg.RavelURL = os.Getenv("ravel_url")
	if cfg.RavelURL == "" {
		return Config{}, errors.New("ravel_url is required")
	}
	cfg.RavelUsername = os.Getenv("ravel_username")
	if cfg.RavelUsername == "" {
		return Config{}, errors.New("ravel_username is required")
	}
	cfg.RavelPassword = os.Getenv("ravel_password")
	if cfg.RavelPassword == "" {
		return Config{}, errors.New("ravel_password is required")
	}

	maxJobsStr := os.Getenv("max_jobs")
	if maxJobsStr == "" {
		return Config{}, errors.New("max_jobs is required")
	}
	maxJobs, err := strconv.Atoi(maxJobsStr)
	if err != nil || maxJobs <= 0 {
		return Config{}, errors.Errorf("max_jobs must be a positive integer, got %q", maxJobsStr)
	}
	cfg.MaxJobs = maxJobs

	if v := os.Getenv("engine_url"); v != "" {
		cfg.EngineURL = v
	}
	if v := os.Getenv("poll_interval_seconds"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.Wrap(err, "parsing poll_interval_seconds")
		}
		cfg.PollInterval = time.Duration(n) * time.Second
	}
	if v := os.Getenv("wall_deadline_minutes"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.Wrap(err, "parsing wall_deadline_minutes")
		}
		cfg.WallDeadline = time.Duration(n) * time.Minute
	}
	if v := os.Getenv("shutdown_grace_seconds"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, errors.Wrap(err, "parsing shutdown_grace_seconds")
		}
		cfg.ShutdownGrace = time.Duration(n) * time.Second
	}
	if v := os.Getenv("strict_admission"); v != "" {
		cfg.StrictAdmission = v == "1" || v == "true"
	}
	if v := os.Getenv("log_level"); v != "" {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("metrics_addr"); ok {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("verdict_queue"); v != "" {
		cfg.VerdictQueue = v
	}
	if v := os.Getenv("amqp_url"); v != "" {
		cfg.AMQPURL = v
	}
	if cfg.VerdictQueue == "amqp" && cfg.AMQPURL == "" {
		return Config{}, errors.New("amqp_url is required when verdict_queue=amqp")
	}

	if yamlPath != "" {
		if err := applyOverlay(&cfg, yamlPath); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func applyOverlay(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "reading config overlay")
	}
	var ov overlay
	if err := yaml.Unmarshal(b, &ov); err != nil {
		return errors.Wrap(err, "parsing config overlay")
	}
	if ov.PollIntervalSeconds > 0 {
		cfg.PollInterval = time.Duration(ov.PollIntervalSeconds) * time.Second
	}
	if ov.WallDeadlineMinutes > 0 {
		cfg.WallDeadline = time.Duration(ov.WallDeadlineMinutes) * time.Minute
	}
	if ov.EngineURL != "" {
		cfg.EngineURL = ov.EngineURL
	}
	return nil
}
