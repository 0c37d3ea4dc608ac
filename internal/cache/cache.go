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

// Package cache keeps a content-addressed, checksum-validated local copy
// of each problem's (input, expected output) pair so the scheduler does
// not have to round-trip to the coordinator on every job.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/codepr/debussy/internal/metrics"
)

const (
	inputFile  = "input.txt"
	outputFile = "output.txt"
)

// Fetcher retrieves a problem's (input, expected) pair from the
// coordinator on a cache miss. *ravel.Client satisfies this.
type Fetcher interface {
	FetchProblem(ctx context.Context, problemID int) (input, expected string, err error)
}

// Cache is a directory tree keyed by problem id, one subdirectory per
// problem, validated against the checksums Ravel hands out alongside
// each submission.
type Cache struct {
	root    string
	fetcher Fetcher
}

// New builds a Cache rooted at root, refilling misses through fetcher.
func New(root string, fetcher Fetcher) *Cache {
	return &Cache{root: root, fetcher: fetcher}
}

func (c *Cache) problemDir(problemID int) string {
	return filepath.Join(c.root, strconv.Itoa(problemID))
}

func checksum(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// valid reports whether the on-disk copy for problemID matches
// inputSum/outputSum exactly. A missing directory or any read failure is
// treated as invalid rather than an error: it simply means Ensure must
// call refill.
func (c *Cache) valid(problemID int, inputSum, outputSum string) bool {
	dir := c.problemDir(problemID)
	input, err := os.ReadFile(filepath.Join(dir, inputFile))
	if err != nil {
		return false
	}
	output, err := os.ReadFile(filepath.Join(dir, outputFile))
	if err != nil {
		return false
	}
	return checksum(string(input)) == inputSum && checksum(string(output)) == outputSum
}

// Ensure returns the on-disk paths to problemID's input and expected
// output files, refilling from the coordinator if the cached copy is
// missing or its checksums no longer match inputSum/outputSum.
func (c *Cache) Ensure(ctx context.Context, problemID int, inputSum, outputSum string) (inputPath, outputPath string, err error) {
	dir := c.problemDir(problemID)
	if c.valid(problemID, inputSum, outputSum) {
		return filepath.Join(dir, inputFile), filepath.Join(dir, outputFile), nil
	}
	if err := c.refill(ctx, problemID); err != nil {
		return "", "", err
	}
	if !c.valid(problemID, inputSum, outputSum) {
		return "", "", errors.Errorf("problem %d: checksum mismatch after refill", problemID)
	}
	return filepath.Join(dir, inputFile), filepath.Join(dir, outputFile), nil
}

// refill clears problemID's directory and repopulates it from the
// coordinator. The directory is removed first so a stale partial write
// from a previous crash can never be mistaken for a valid entry.
func (c *Cache) refill(ctx context.Context, problemID int) error {
	metrics.CacheRefills.Inc()
	dir := c.problemDir(problemID)
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "clearing problem %d cache dir", problemID)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating problem %d cache dir", problemID)
	}

	input, output, err := c.fetcher.FetchProblem(ctx, problemID)
	if err != nil {
		return errors.Wrapf(err, "fetching problem %d", problemID)
	}
	if err := os.WriteFile(filepath.Join(dir, inputFile), []byte(input), 0o644); err != nil {
		return errors.Wrapf(err, "writing problem %d input", problemID)
	}
	if err := os.WriteFile(filepath.Join(dir, outputFile), []byte(output), 0o644); err != nil {
		return errors.Wrapf(err, "writing problem %d output", problemID)
	}
	return nil
}
