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

// Package workspace populates and tears down the per-job directory that
// the sandbox container mounts at /usr/src/debussy.
package workspace

import (
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/codepr/debussy/internal/model"
)

const statusFile = "status.txt"

// Manager roots every job directory under a common jobs/ tree.
type Manager struct {
	jobsRoot string
}

// New builds a Manager rooted at jobsRoot (e.g. "<cwd>/jobs").
func New(jobsRoot string) *Manager {
	return &Manager{jobsRoot: jobsRoot}
}

// Dir returns the job directory for submissionID.
func (m *Manager) Dir(submissionID int) string {
	return filepath.Join(m.jobsRoot, strconv.Itoa(submissionID))
}

// StatusPath returns the path the sandbox writes its result token to.
func (m *Manager) StatusPath(submissionID int) string {
	return filepath.Join(m.Dir(submissionID), statusFile)
}

// HasStatus reports whether the sandbox has finished, i.e. status.txt
// exists.
func (m *Manager) HasStatus(submissionID int) bool {
	_, err := os.Stat(m.StatusPath(submissionID))
	return err == nil
}

// ReadStatus reads the single-line result token the sandbox wrote.
func (m *Manager) ReadStatus(submissionID int) (string, error) {
	b, err := os.ReadFile(m.StatusPath(submissionID))
	if err != nil {
		return "", errors.Wrapf(err, "reading status for submission %d", submissionID)
	}
	return string(b), nil
}

// WriteTimeout writes the timeout sentinel to status.txt, for the
// scheduler's wall-clock enforcement path.
func (m *Manager) WriteTimeout(submissionID int) error {
	path := m.StatusPath(submissionID)
	if err := os.WriteFile(path, []byte(model.TimelimitExceptionSentinel), 0o644); err != nil {
		return errors.Wrapf(err, "writing timeout sentinel for submission %d", submissionID)
	}
	return nil
}

// Stage (re)builds the job directory for submission against the cached
// problem files at inputPath/outputPath: remove any stale directory,
// recreate it, copy the problem's input/output, and write the solution
// source under its language's extension.
func (m *Manager) Stage(submission model.Submission, inputPath, outputPath string) error {
	dir := m.Dir(submission.Id)

	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "removing stale job dir for submission %d", submission.Id)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating job dir for submission %d", submission.Id)
	}

	if err := copyFile(inputPath, filepath.Join(dir, "input.txt")); err != nil {
		return errors.Wrapf(err, "staging input for submission %d", submission.Id)
	}
	if err := copyFile(outputPath, filepath.Join(dir, "output.txt")); err != nil {
		return errors.Wrapf(err, "staging output for submission %d", submission.Id)
	}

	ext, ok := submission.Language.Ext()
	if !ok {
		return errors.Errorf("submission %d: unrecognized language %q", submission.Id, submission.Language)
	}
	solutionPath := filepath.Join(dir, "solution."+ext)
	if err := os.WriteFile(solutionPath, []byte(submission.Content), 0o644); err != nil {
		return errors.Wrapf(err, "writing solution for submission %d", submission.Id)
	}
	return nil
}

// Teardown removes a job's directory once its verdict has been
// acknowledged by the coordinator.
func (m *Manager) Teardown(submissionID int) error {
	if err := os.RemoveAll(m.Dir(submissionID)); err != nil {
		return errors.Wrapf(err, "removing job dir for submission %d", submissionID)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
