// Copyright 2023 The listentogether Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package client implements the listentogether sync client: the server API
// wrapper, the polling sync engine, and playback drift correction against a
// local media player.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/bloodlantern/listentogether/protocol"
)

// RejectedError server processed the request but refused it. The connection
// itself is healthy, so rejections never count towards failure detection.
type RejectedError struct {
	// StatusCode is the HTTP status code of the response
	StatusCode int
	// Message is the reason given by the server
	Message string
}

// Error implement error
func (e RejectedError) Error() string {
	return fmt.Sprintf("server rejected request (%d): %s", e.StatusCode, e.Message)
}

// IsRejection whether the error is a server side rejection rather than a
// transport failure
func IsRejection(err error) bool {
	var rejected RejectedError
	return errors.As(err, &rejected)
}

// ServerAPI client side wrapper around the listener server REST API
type ServerAPI interface {
	// Connect register a new listener session, returning the session id
	Connect(ctxt context.Context, username string) (string, error)
	// Disconnect remove the listener session
	Disconnect(ctxt context.Context, id string) error
	// UpdateActivity report the listener's current listening state
	UpdateActivity(ctxt context.Context, id string, state protocol.ListeningState) error
	// ClearActivity mark the listener as idle
	ClearActivity(ctxt context.Context, id string) error
	// ListenerStates fetch the shared state of every connected listener
	ListenerStates(ctxt context.Context) ([]protocol.ListenerSharedState, error)
	// JoinQueue follow the playback of the listener with the given username
	JoinQueue(ctxt context.Context, id string, ownerUsername string) error
	// LeaveQueue stop following the current queue owner's playback
	LeaveQueue(ctxt context.Context, id string) error
	// Close release idle connections
	Close()
}

// restServerAPI implements ServerAPI over HTTP
type restServerAPI struct {
	goutils.Component
	baseURL *url.URL
	client  *http.Client
}

// GetServerAPIInstance create new server API instance
func GetServerAPIInstance(serverURI string, requestTimeout time.Duration) (ServerAPI, error) {
	parsed, err := url.Parse(serverURI)
	if err != nil {
		return nil, err
	}
	logTags := log.Fields{
		"module": "client", "component": "server-api", "instance": parsed.Host,
	}
	return &restServerAPI{
		Component: goutils.Component{LogTags: logTags},
		baseURL:   parsed,
		client:    &http.Client{Timeout: requestTimeout},
	}, nil
}

// errorResponseBody server error response payload
type errorResponseBody struct {
	Success bool `json:"success"`
	Error   *struct {
		Code   int    `json:"code"`
		Msg    string `json:"message"`
		Detail string `json:"detail"`
	} `json:"error,omitempty"`
}

// do send one request, returning the raw response body on success. A non-2xx
// status becomes a RejectedError; anything else is a transport failure.
func (c *restServerAPI) do(
	ctxt context.Context, method string, path string, query url.Values, payload []byte,
) ([]byte, error) {
	target := *c.baseURL
	target.Path = strings.TrimSuffix(target.Path, "/") + path
	target.RawQuery = query.Encode()

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctxt, method, target.String(), reqBody)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf(
			"Request %s '%s' failed", method, path,
		)
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return respBody, nil
	}

	reason := http.StatusText(resp.StatusCode)
	var parsed errorResponseBody
	if err := json.Unmarshal(respBody, &parsed); err == nil && parsed.Error != nil {
		reason = parsed.Error.Msg
		if parsed.Error.Detail != "" {
			reason = parsed.Error.Detail
		}
	}
	log.WithFields(c.LogTags).Debugf(
		"Request %s '%s' rejected (%d): %s", method, path, resp.StatusCode, reason,
	)
	return nil, RejectedError{StatusCode: resp.StatusCode, Message: reason}
}

// Connect register a new listener session, returning the session id
func (c *restServerAPI) Connect(ctxt context.Context, username string) (string, error) {
	respBody, err := c.do(
		ctxt, http.MethodGet, "/connect", url.Values{"username": {username}}, nil,
	)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(respBody))
	if id == "" {
		return "", fmt.Errorf("server returned an empty session id")
	}
	return id, nil
}

// Disconnect remove the listener session
func (c *restServerAPI) Disconnect(ctxt context.Context, id string) error {
	_, err := c.do(ctxt, http.MethodPost, "/disconnect", url.Values{"id": {id}}, nil)
	return err
}

// UpdateActivity report the listener's current listening state
func (c *restServerAPI) UpdateActivity(
	ctxt context.Context, id string, state protocol.ListeningState,
) error {
	payload, err := json.Marshal(&state)
	if err != nil {
		return err
	}
	_, err = c.do(
		ctxt, http.MethodPost, "/listeners/updateActivity", url.Values{"id": {id}}, payload,
	)
	return err
}

// ClearActivity mark the listener as idle
func (c *restServerAPI) ClearActivity(ctxt context.Context, id string) error {
	_, err := c.do(
		ctxt, http.MethodPost, "/listeners/clearActivity", url.Values{"id": {id}}, nil,
	)
	return err
}

// ListenerStates fetch the shared state of every connected listener
func (c *restServerAPI) ListenerStates(
	ctxt context.Context,
) ([]protocol.ListenerSharedState, error) {
	respBody, err := c.do(ctxt, http.MethodGet, "/listeners/states", url.Values{}, nil)
	if err != nil {
		return nil, err
	}
	var states []protocol.ListenerSharedState
	if err := json.Unmarshal(respBody, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// JoinQueue follow the playback of the listener with the given username
func (c *restServerAPI) JoinQueue(
	ctxt context.Context, id string, ownerUsername string,
) error {
	_, err := c.do(
		ctxt,
		http.MethodPost,
		"/listeners/joinQueue",
		url.Values{"id": {id}, "username": {ownerUsername}},
		nil,
	)
	return err
}

// LeaveQueue stop following the current queue owner's playback
func (c *restServerAPI) LeaveQueue(ctxt context.Context, id string) error {
	_, err := c.do(
		ctxt, http.MethodPost, "/listeners/leaveQueue", url.Values{"id": {id}}, nil,
	)
	return err
}

// Close release idle connections
func (c *restServerAPI) Close() {
	c.client.CloseIdleConnections()
}
