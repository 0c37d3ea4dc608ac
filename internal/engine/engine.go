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

// Package engine is a small typed client over an HTTP-speaking container
// engine: create, start, inspect, kill, remove. It does not use the
// Docker SDK's client.Client because that client collapses every
// non-2xx response into one generic error; this daemon's scheduler needs
// to branch on the exact taxonomy in §4.A (e.g. ContainerAlreadyStarted
// vs StartContainerError, NoSuchContainer vs IsNotRunning), which only a
// raw look at the status code gives us.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/docker/docker/api/types/container"
	"github.com/pkg/errors"
)

// Error is the typed taxonomy §4.A requires the scheduler to consume.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

const (
	KindCreateContainerError         = "CreateContainerError"
	KindStartContainerError          = "StartContainerError"
	KindContainerAlreadyStarted      = "ContainerAlreadyStarted"
	KindKillContainerError           = "KillContainerError"
	KindNoSuchContainer              = "NoSuchContainer"
	KindIsNotRunning                 = "IsNotRunning"
	KindInspectContainerError        = "InspectContainerError"
	KindRemoveContainerError         = "RemoveContainerError"
	KindCannotRemoveRunningContainer = "CannotRemoveRunningContainer"
)

// IsNoSuchContainer reports whether err is the engine's "no such
// container" error, which the scheduler treats as terminal-not-an-error
// when tearing down.
func IsNoSuchContainer(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindNoSuchContainer
}

// IsNotRunning reports whether err is the engine's "container is not
// running" error.
func IsNotRunning(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindIsNotRunning
}

// CreateOptions mirrors §4.A's create() parameters. Create turns them
// into a request body whose HostConfig is the teacher's own
// container.HostConfig type and whose other fields are a local struct
// with the engine's PascalCase field names.
type CreateOptions struct {
	Image           string
	Binds           []string
	AutoRemove      bool
	NetworkDisabled bool
	Env             []string
	AnonVolumes     []string
	AttachStdio     bool
}

// State is the decoded "State" sub-object of the engine's inspect
// response.
type State struct {
	ExitCode int  `json:"ExitCode"`
	Running  bool `json:"Running"`
}

type inspectResponse struct {
	State State `json:"State"`
}

type createSuccessResponse struct {
	Id       string   `json:"Id"`
	Warnings []string `json:"Warnings"`
}

type apiErrorBody struct {
	Message string `json:"message"`
}

// Client talks to a single container-engine endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client against baseURL (e.g. "http://localhost:2375").
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encoding request body")
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

func apiError(resp *http.Response, kind string) *Error {
	var body apiErrorBody
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return &Error{Kind: kind, Message: body.Message}
}

// Create provisions a container named name and returns the engine's
// container id.
func (c *Client) Create(ctx context.Context, opts CreateOptions, name string) (string, error) {
	volumes := map[string]struct{}{}
	for _, v := range opts.AnonVolumes {
		volumes[v] = struct{}{}
	}
	cfg := struct {
		Image           string
		HostConfig      container.HostConfig
		Tty             bool
		AttachStdin     bool
		AttachStdout    bool
		AttachStderr    bool
		OpenStdin       bool
		StdinOnce       bool
		NetworkDisabled bool
		Env             []string            `json:",omitempty"`
		Volumes         map[string]struct{} `json:",omitempty"`
	}{
		Image: opts.Image,
		HostConfig: container.HostConfig{
			Binds:      opts.Binds,
			AutoRemove: opts.AutoRemove,
		},
		AttachStdin:     opts.AttachStdio,
		AttachStdout:    opts.AttachStdio,
		AttachStderr:    opts.AttachStdio,
		NetworkDisabled: opts.NetworkDisabled,
		Env:             opts.Env,
		Volumes:         volumes,
	}

	resp, err := c.do(ctx, http.MethodPost, "/containers/create?name="+name, cfg)
	if err != nil {
		return "", errors.Wrap(err, "sending create request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		var ok createSuccessResponse
		if err := json.NewDecoder(resp.Body).Decode(&ok); err != nil {
			return "", errors.Wrap(err, "decoding create response")
		}
		return ok.Id, nil
	}
	return "", apiError(resp, KindCreateContainerError)
}

// Start starts the container named name.
func (c *Client) Start(ctx context.Context, name string) error {
	resp, err := c.do(ctx, http.MethodPost, "/containers/"+name+"/start", nil)
	if err != nil {
		return errors.Wrap(err, "sending start request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode/100 == 2:
		return nil
	case resp.StatusCode/100 == 3:
		return &Error{Kind: KindContainerAlreadyStarted}
	default:
		return apiError(resp, KindStartContainerError)
	}
}

// Kill sends SIGKILL to the container named name.
func (c *Client) Kill(ctx context.Context, name string) error {
	resp, err := c.do(ctx, http.MethodPost, "/containers/"+name+"/kill", nil)
	if err != nil {
		return errors.Wrap(err, "sending kill request")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return &Error{Kind: KindNoSuchContainer}
	case http.StatusConflict:
		return &Error{Kind: KindIsNotRunning}
	default:
		return apiError(resp, KindKillContainerError)
	}
}

// Inspect returns the container's exit code and running flag.
func (c *Client) Inspect(ctx context.Context, name string) (State, error) {
	resp, err := c.do(ctx, http.MethodGet, "/containers/"+name+"/json?size=false", nil)
	if err != nil {
		return State{}, errors.Wrap(err, "sending inspect request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusInternalServerError {
		return State{}, apiError(resp, KindInspectContainerError)
	}
	if resp.StatusCode/100 != 2 {
		return State{}, apiError(resp, KindInspectContainerError)
	}
	var decoded inspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return State{}, errors.Wrap(err, "decoding inspect response")
	}
	return decoded.State, nil
}

// Remove deletes the container named name.
func (c *Client) Remove(ctx context.Context, name string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/containers/"+name, nil)
	if err != nil {
		return errors.Wrap(err, "sending remove request")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusBadRequest:
		return apiError(resp, KindRemoveContainerError)
	case http.StatusNotFound:
		return &Error{Kind: KindNoSuchContainer}
	case http.StatusConflict:
		return &Error{Kind: KindCannotRemoveRunningContainer}
	default:
		return apiError(resp, KindRemoveContainerError)
	}
}
