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

// Package ravel is the request/response contract for the coordinator:
// pulling pending work, fetching a problem's (input, expected) pair, and
// pushing verdicts back.
package ravel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/codepr/debussy/internal/model"
)

// Error is the taxonomy §4.B requires.
type Error struct {
	Kind string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

const (
	KindRavelError           = "RavelError"
	KindSubmissionFetchError = "SubmissionFetchError"
	KindProblemFetchError    = "ProblemFetchError"
)

// Credentials are carried in the body of every GET/POST, per §6's
// (unusual, but preserved for wire compatibility) wire protocol.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type pendingResponse struct {
	Submissions []model.Submission `json:"submissions"`
}

type problemRequest struct {
	Credentials
	Problem string `json:"problem"`
}

type problemResponse struct {
	ProblemInput  string `json:"problem_input"`
	ProblemOutput string `json:"problem_output"`
}

type updateRequest struct {
	Username    string          `json:"username"`
	Password    string          `json:"password"`
	Submissions []model.Verdict `json:"submissions"`
}

// Client talks to a single Ravel coordinator instance.
type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
}

// New builds a Client against baseURL, authenticating every call with
// creds.
func New(baseURL string, creds Credentials, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, creds: creds, http: httpClient}
}

func (c *Client) request(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encoding request body")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

// PullPending fetches the coordinator's current pending-submission list.
func (c *Client) PullPending(ctx context.Context) ([]model.Submission, error) {
	resp, err := c.request(ctx, http.MethodGet, "/judge/pending", c.creds)
	if err != nil {
		return nil, &Error{Kind: KindRavelError, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, &Error{Kind: KindRavelError, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	var parsed pendingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &Error{Kind: KindSubmissionFetchError, Err: err}
	}
	return parsed.Submissions, nil
}

// FetchProblem retrieves the (input, expected) pair for problemID.
func (c *Client) FetchProblem(ctx context.Context, problemID int) (input, expected string, err error) {
	body := problemRequest{Credentials: c.creds, Problem: fmt.Sprintf("%d", problemID)}
	resp, err := c.request(ctx, http.MethodGet, "/judge/problem", body)
	if err != nil {
		return "", "", &Error{Kind: KindRavelError, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", "", &Error{Kind: KindRavelError, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	var parsed problemResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", "", &Error{Kind: KindProblemFetchError, Err: err}
	}
	return parsed.ProblemInput, parsed.ProblemOutput, nil
}

// PushResults POSTs a batch of verdicts to the coordinator. It retries
// transient failures within a short in-process budget (a handful of
// exponential backoff attempts); it does not retry across scheduler
// ticks — that's the caller's responsibility so a stuck coordinator
// never blocks ingest/drive.
func (c *Client) PushResults(ctx context.Context, verdicts []model.Verdict) error {
	body := updateRequest{
		Username:    c.creds.Username,
		Password:    c.creds.Password,
		Submissions: verdicts,
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	bo.InitialInterval = 200 * time.Millisecond

	return backoff.Retry(func() error {
		resp, err := c.request(ctx, http.MethodPost, "/judge/update", body)
		if err != nil {
			return &Error{Kind: KindRavelError, Err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode/100 != 2 {
			return &Error{Kind: KindRavelError, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}
