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

// Package model carries the wire and scheduler-local types shared by every
// other package: Submission as pulled from Ravel, the scheduler's Job
// wrapper around it, and the Verdict/JobResult pushed back.
package model

import (
	"strconv"
	"time"
)

// Language is the closed set of source languages the sandbox image knows
// how to compile and run.
type Language string

const (
	Python Language = "Python"
	Java   Language = "Java"
	Cpp    Language = "Cpp"
)

// Ext returns the sandbox's expected solution file extension for l.
func (l Language) Ext() (string, bool) {
	switch l {
	case Python:
		return "py", true
	case Java:
		return "java", true
	case Cpp:
		return "cpp", true
	default:
		return "", false
	}
}

// Submission is a code artifact pulled from Ravel, awaiting judgment.
type Submission struct {
	Id        int      `json:"id"`
	Language  Language `json:"language"`
	Time      string   `json:"time"`
	Content   string   `json:"content"`
	Problem   int      `json:"problem"`
	InputSum  string   `json:"input_sum"`
	OutputSum string   `json:"output_sum"`
	Timeout   int      `json:"timeout"`
}

// State is a Job's position in the scheduler's state machine.
type State int

const (
	Pending State = iota
	Running
	Finished
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Job is a Submission plus scheduler-local bookkeeping. It is never
// marshaled over the wire; the coordinator only ever sees Verdicts.
type Job struct {
	Submission Submission
	State      State
	StartedAt  time.Time
	Attempts   int

	// Queued is set once this job's verdict has been handed to the
	// verdict queue, so a Finished job already awaiting flush is not
	// re-read and re-enqueued on a later tick.
	Queued bool
}

// ContainerName is the name the container engine registers this job's
// container under, per §6's sandbox contract.
func (j *Job) ContainerName() string {
	return ContainerName(j.Submission.Id)
}

// ContainerName builds the deterministic per-submission container name.
func ContainerName(submissionID int) string {
	return "reverie_" + strconv.Itoa(submissionID)
}

// JobResult is the closed classification the sandbox image reports via
// status.txt.
type JobResult int

const (
	Correct JobResult = iota
	Wrong
	TimelimitException
	RuntimeError
	CompilerError
	IllegalImport
)

// String renders the JobResult as the verdict's error name, which is
// also the string pushed to Ravel's "error" field.
func (r JobResult) String() string {
	switch r {
	case Correct:
		return "Correct"
	case Wrong:
		return "Wrong"
	case TimelimitException:
		return "TimelimitException"
	case RuntimeError:
		return "RuntimeError"
	case CompilerError:
		return "CompilerError"
	case IllegalImport:
		return "IllegalImport"
	default:
		return "Unknown"
	}
}

// sentinel is the literal string the sandbox image writes to status.txt,
// distinct from the verdict error name for TimelimitException.
func (r JobResult) sentinel() string {
	switch r {
	case Correct:
		return "Correct"
	case Wrong:
		return "Wrong"
	case TimelimitException:
		return "Timelimit Exception"
	case RuntimeError:
		return "Runtime Error"
	case CompilerError:
		return "Compiler Error"
	case IllegalImport:
		return "Illegal Import"
	default:
		return ""
	}
}

// TimelimitExceptionSentinel is the literal text the scheduler writes to
// jobs/<id>/status.txt when it enforces a wall-clock timeout.
const TimelimitExceptionSentinel = "Timelimit Exception"

// ParseJobResult parses the literal sentinel string the sandbox image
// writes to status.txt. Any text outside the six-element vocabulary,
// including the empty string, is a parse failure.
func ParseJobResult(s string) (JobResult, bool) {
	for _, r := range []JobResult{Correct, Wrong, TimelimitException, RuntimeError, CompilerError, IllegalImport} {
		if r.sentinel() == s {
			return r, true
		}
	}
	return 0, false
}

// Verdict is the daemon's report of a submission's outcome, as pushed to
// the coordinator.
type Verdict struct {
	Id     int     `json:"id"`
	Solved bool    `json:"solved"`
	Error  *string `json:"error,omitempty"`
}

// NewVerdict builds a Verdict from a classified JobResult.
func NewVerdict(submissionID int, result JobResult) Verdict {
	if result == Correct {
		return Verdict{Id: submissionID, Solved: true}
	}
	errName := result.String()
	return Verdict{Id: submissionID, Solved: false, Error: &errName}
}
