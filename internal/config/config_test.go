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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ravel_url", "ravel_username", "ravel_password", "max_jobs",
		"engine_url", "poll_interval_seconds", "wall_deadline_minutes",
		"shutdown_grace_seconds", "strict_admission", "log_level",
		"metrics_addr", "verdict_queue", "amqp_url",
	} {
		os.Unsetenv(k)
	}
}

func TestLoadRequiresRavelURL(t *testing.T) {
	clearEnv(t)
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ravel_url", "http://ravel.local")
	t.Setenv("ravel_username", "u")
	t.Setenv("ravel_password", "p")
	t.Setenv("max_jobs", "4")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxJobs)
	assert.Equal(t, "http://localhost:2375", cfg.EngineURL)
	assert.Equal(t, 10*time.Minute, cfg.WallDeadline)
	assert.Equal(t, "memory", cfg.VerdictQueue)
}

func TestLoadRejectsNonPositiveMaxJobs(t *testing.T) {
	clearEnv(t)
	t.Setenv("ravel_url", "http://ravel.local")
	t.Setenv("ravel_username", "u")
	t.Setenv("ravel_password", "p")
	t.Setenv("max_jobs", "0")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadRequiresAMQPURLWhenSelected(t *testing.T) {
	clearEnv(t)
	t.Setenv("ravel_url", "http://ravel.local")
	t.Setenv("ravel_username", "u")
	t.Setenv("ravel_password", "p")
	t.Setenv("max_jobs", "4")
	t.Setenv("verdict_queue", "amqp")

	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadYAMLOverlayOverridesTunables(t *testing.T) {
	clearEnv(t)
	t.Setenv("ravel_url", "http://ravel.local")
	t.Setenv("ravel_username", "u")
	t.Setenv("ravel_password", "p")
	t.Setenv("max_jobs", "4")

	path := filepath.Join(t.TempDir(), "debussy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("poll_interval_seconds: 5\nengine_url: http://engine.local:2375\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, "http://engine.local:2375", cfg.EngineURL)
}

func TestLoadYAMLOverlayMissingFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	t.Setenv("ravel_url", "http://ravel.local")
	t.Setenv("ravel_username", "u")
	t.Setenv("ravel_password", "p")
	t.Setenv("max_jobs", "4")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NoError(t, err)
}
