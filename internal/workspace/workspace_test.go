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

package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepr/debussy/internal/model"
)

func writeProblemFiles(t *testing.T, dir string) (string, string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	inputPath := filepath.Join(dir, "input.txt")
	outputPath := filepath.Join(dir, "output.txt")
	require.NoError(t, os.WriteFile(inputPath, []byte("2 3"), 0o644))
	require.NoError(t, os.WriteFile(outputPath, []byte("5"), 0o644))
	return inputPath, outputPath
}

func TestStagePopulatesJobDir(t *testing.T) {
	root := t.TempDir()
	problemDir := filepath.Join(root, "problems", "42")
	inputPath, outputPath := writeProblemFiles(t, problemDir)

	m := New(filepath.Join(root, "jobs"))
	sub := model.Submission{Id: 7, Language: model.Python, Problem: 42, Content: "print(1)"}
	require.NoError(t, m.Stage(sub, inputPath, outputPath))

	dir := m.Dir(7)
	b, err := os.ReadFile(filepath.Join(dir, "input.txt"))
	require.NoError(t, err)
	assert.Equal(t, "2 3", string(b))

	b, err = os.ReadFile(filepath.Join(dir, "output.txt"))
	require.NoError(t, err)
	assert.Equal(t, "5", string(b))

	b, err = os.ReadFile(filepath.Join(dir, "solution.py"))
	require.NoError(t, err)
	assert.Equal(t, "print(1)", string(b))
}

func TestStageRemovesStaleDirFirst(t *testing.T) {
	root := t.TempDir()
	problemDir := filepath.Join(root, "problems", "42")
	inputPath, outputPath := writeProblemFiles(t, problemDir)

	m := New(filepath.Join(root, "jobs"))
	stalePath := filepath.Join(m.Dir(7), "leftover.txt")
	require.NoError(t, os.MkdirAll(m.Dir(7), 0o755))
	require.NoError(t, os.WriteFile(stalePath, []byte("x"), 0o644))

	sub := model.Submission{Id: 7, Language: model.Cpp, Problem: 42, Content: "int main(){}"}
	require.NoError(t, m.Stage(sub, inputPath, outputPath))

	_, err := os.Stat(stalePath)
	assert.True(t, os.IsNotExist(err), "stale file must be removed by Stage")
}

func TestStageRejectsUnknownLanguage(t *testing.T) {
	root := t.TempDir()
	problemDir := filepath.Join(root, "problems", "42")
	inputPath, outputPath := writeProblemFiles(t, problemDir)

	m := New(filepath.Join(root, "jobs"))
	sub := model.Submission{Id: 7, Language: model.Language("Rust"), Problem: 42}
	err := m.Stage(sub, inputPath, outputPath)
	assert.Error(t, err)
}

func TestHasStatusAndWriteTimeout(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, os.MkdirAll(m.Dir(3), 0o755))

	assert.False(t, m.HasStatus(3))
	require.NoError(t, m.WriteTimeout(3))
	assert.True(t, m.HasStatus(3))

	status, err := m.ReadStatus(3)
	require.NoError(t, err)
	assert.Equal(t, model.TimelimitExceptionSentinel, status)
}

func TestTeardownRemovesDir(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	require.NoError(t, os.MkdirAll(m.Dir(5), 0o755))

	require.NoError(t, m.Teardown(5))
	_, err := os.Stat(m.Dir(5))
	assert.True(t, os.IsNotExist(err))
}
