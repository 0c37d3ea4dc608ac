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

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseJobResultRoundTrip(t *testing.T) {
	for _, r := range []JobResult{Correct, Wrong, TimelimitException, RuntimeError, CompilerError, IllegalImport} {
		parsed, ok := ParseJobResult(r.sentinel())
		assert.True(t, ok, "sentinel for %v should parse", r)
		assert.Equal(t, r, parsed)
	}
}

func TestParseJobResultRejectsUnknown(t *testing.T) {
	_, ok := ParseJobResult("")
	assert.False(t, ok)

	_, ok = ParseJobResult("TimelimitException")
	assert.False(t, ok, "verdict error name is not the sandbox sentinel")

	_, ok = ParseJobResult("correct")
	assert.False(t, ok, "case must match exactly")
}

func TestTimelimitExceptionSentinelMatchesParse(t *testing.T) {
	r, ok := ParseJobResult(TimelimitExceptionSentinel)
	assert.True(t, ok)
	assert.Equal(t, TimelimitException, r)
}

func TestNewVerdictCorrect(t *testing.T) {
	v := NewVerdict(7, Correct)
	assert.Equal(t, 7, v.Id)
	assert.True(t, v.Solved)
	assert.Nil(t, v.Error)
}

func TestNewVerdictNotCorrect(t *testing.T) {
	v := NewVerdict(7, TimelimitException)
	assert.False(t, v.Solved)
	if assert.NotNil(t, v.Error) {
		assert.Equal(t, "TimelimitException", *v.Error)
	}
}

func TestContainerName(t *testing.T) {
	assert.Equal(t, "reverie_7", ContainerName(7))
}

func TestLanguageExt(t *testing.T) {
	ext, ok := Python.Ext()
	assert.True(t, ok)
	assert.Equal(t, "py", ext)

	_, ok = Language("Rust").Ext()
	assert.False(t, ok)
}
