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

package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/bloodlantern/listentogether/common"
	"github.com/bloodlantern/listentogether/protocol"
)

// ErrNoSession operation requires an active session
var ErrNoSession = errors.New("no active session")

// SyncEngine drives one listener session: periodic polling, queue
// membership, and drift correction of the local player against the queue
// owner's playback.
type SyncEngine interface {
	// Connect establish a session with the listener server
	Connect(ctxt context.Context) error
	// Disconnect end the session, restoring any saved playback session
	Disconnect(ctxt context.Context) error
	// ReportPlayback push the player's current listening state to the server
	ReportPlayback(ctxt context.Context) error
	// JoinQueue start following the given listener's playback
	JoinQueue(ctxt context.Context, ownerUsername string) error
	// LeaveQueue stop following, restoring the playback session captured at join
	LeaveQueue(ctxt context.Context) error
	// Poll run one sync pass now. Unless forced, polls within one interval of
	// the previous successful pass are debounced.
	Poll(ctxt context.Context, force bool) error
	// StartPolling begin periodic sync passes
	StartPolling() error
	// StopPolling halt periodic sync passes
	StopPolling() error
	// Subscribe receive engine notifications on a new channel
	Subscribe() <-chan Event
	// SessionID fetch the current session id, "" when disconnected
	SessionID() string
	// QueueOwner fetch the followed owner's username, if following
	QueueOwner() (string, bool)
	// CurrentListeners fetch the most recent listener snapshot
	CurrentListeners() []protocol.ListenerSharedState
}

// syncEngineImpl implements SyncEngine
type syncEngineImpl struct {
	goutils.Component
	api      ServerAPI
	player   MediaPlayer
	username string
	rootCtxt context.Context
	timer    common.IntervalTimer

	pollInterval   time.Duration
	driftThreshold int64
	failureWindow  time.Duration
	requestTimeout time.Duration

	lock         sync.Mutex
	sessionID    string
	queueOwner   string
	snapshot     *PlaybackSnapshot
	listeners    []protocol.ListenerSharedState
	lastPoll     time.Time
	lastSuccess  time.Time
	pollInFlight bool
	subscribers  []chan Event
}

// GetSyncEngineInstance create new sync engine instance
func GetSyncEngineInstance(
	rootCtxt context.Context,
	wg *sync.WaitGroup,
	api ServerAPI,
	player MediaPlayer,
	username string,
	config common.SyncConfig,
	instance string,
) (SyncEngine, error) {
	logTags := log.Fields{
		"module": "client", "component": "sync-engine", "instance": instance,
	}
	timer, err := common.GetIntervalTimerInstance("sync-poll", rootCtxt, wg)
	if err != nil {
		return nil, err
	}
	return &syncEngineImpl{
		Component:      goutils.Component{LogTags: logTags},
		api:            api,
		player:         player,
		username:       username,
		rootCtxt:       rootCtxt,
		timer:          timer,
		pollInterval:   time.Second * time.Duration(config.PollIntervalSec),
		driftThreshold: config.DriftThresholdMS,
		failureWindow:  time.Second * time.Duration(config.FailureWindowSec),
		requestTimeout: time.Second * time.Duration(config.RequestTimeoutSec),
	}, nil
}

// =======================================================================
// Session lifecycle

// Connect establish a session with the listener server
func (e *syncEngineImpl) Connect(ctxt context.Context) error {
	id, err := e.api.Connect(ctxt, e.username)
	if err != nil {
		return err
	}
	e.lock.Lock()
	e.sessionID = id
	e.lastSuccess = time.Now()
	e.lock.Unlock()
	log.WithFields(e.LogTags).Infof("Connected as '%s'", e.username)
	e.notify(Event{Type: EventConnected})
	return nil
}

// Disconnect end the session, restoring any saved playback session
func (e *syncEngineImpl) Disconnect(ctxt context.Context) error {
	e.lock.Lock()
	id := e.sessionID
	e.sessionID = ""
	e.queueOwner = ""
	snapshot := e.snapshot
	e.snapshot = nil
	e.lock.Unlock()
	if id == "" {
		return nil
	}
	_ = e.timer.Stop()
	if snapshot != nil {
		if err := e.player.Restore(*snapshot); err != nil {
			log.WithError(err).WithFields(e.LogTags).Error("Failed to restore playback")
		}
	}
	err := e.api.Disconnect(ctxt, id)
	e.api.Close()
	log.WithFields(e.LogTags).Info("Disconnected")
	e.notify(Event{Type: EventDisconnected})
	if err != nil && !IsRejection(err) {
		return err
	}
	return nil
}

// forcedDisconnect tear the session down locally after the server has been
// unreachable for longer than the failure window. Makes no server calls.
func (e *syncEngineImpl) forcedDisconnect(cause error) {
	e.lock.Lock()
	if e.sessionID == "" {
		e.lock.Unlock()
		return
	}
	e.sessionID = ""
	e.queueOwner = ""
	snapshot := e.snapshot
	e.snapshot = nil
	e.lock.Unlock()
	log.WithError(cause).WithFields(e.LogTags).Error(
		"Server unreachable beyond failure window, disconnecting",
	)
	_ = e.timer.Stop()
	if snapshot != nil {
		if err := e.player.Restore(*snapshot); err != nil {
			log.WithError(err).WithFields(e.LogTags).Error("Failed to restore playback")
		}
	}
	e.api.Close()
	e.notify(Event{Type: EventDisconnected, Err: cause})
}

// recordOutcome track request outcomes for failure detection. A rejection
// still proves the server is reachable, so it resets the failure window.
func (e *syncEngineImpl) recordOutcome(err error) error {
	if err == nil || IsRejection(err) {
		e.lock.Lock()
		e.lastSuccess = time.Now()
		e.lock.Unlock()
		return err
	}
	e.lock.Lock()
	exceeded := !e.lastSuccess.IsZero() && time.Since(e.lastSuccess) > e.failureWindow
	e.lock.Unlock()
	if exceeded {
		e.forcedDisconnect(err)
	}
	return err
}

func (e *syncEngineImpl) currentSession() (string, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.sessionID == "" {
		return "", ErrNoSession
	}
	return e.sessionID, nil
}

// =======================================================================
// Activity and polling

// ReportPlayback push the player's current listening state to the server
func (e *syncEngineImpl) ReportPlayback(ctxt context.Context) error {
	id, err := e.currentSession()
	if err != nil {
		return err
	}
	state := e.player.CurrentState()
	if state.IsIdle() {
		return e.recordOutcome(e.api.ClearActivity(ctxt, id))
	}
	return e.recordOutcome(e.api.UpdateActivity(ctxt, id, state))
}

// Poll run one sync pass: report local playback, fetch the listener
// snapshot, then reconcile the local player if following a queue.
func (e *syncEngineImpl) Poll(ctxt context.Context, force bool) error {
	e.lock.Lock()
	if e.sessionID == "" {
		e.lock.Unlock()
		return ErrNoSession
	}
	if !force && time.Since(e.lastPoll) < e.pollInterval {
		e.lock.Unlock()
		log.WithFields(e.LogTags).Debug("Poll debounced")
		return nil
	}
	if e.pollInFlight {
		e.lock.Unlock()
		log.WithFields(e.LogTags).Debug("Poll already in flight")
		return nil
	}
	e.pollInFlight = true
	following := e.queueOwner
	e.lock.Unlock()
	defer func() {
		e.lock.Lock()
		e.pollInFlight = false
		e.lock.Unlock()
	}()

	// Followers don't report while mirroring; their state is derivative
	if following == "" {
		if err := e.ReportPlayback(ctxt); err != nil && !IsRejection(err) {
			return err
		}
	}

	states, err := e.api.ListenerStates(ctxt)
	if err = e.recordOutcome(err); err != nil {
		return err
	}
	e.lock.Lock()
	// Only a completed pass arms the debounce; a failed pass must not
	// swallow the next refresh attempt.
	e.lastPoll = time.Now()
	e.listeners = states
	e.lock.Unlock()
	e.notify(Event{Type: EventListenersUpdated, Listeners: states})

	if following == "" {
		return nil
	}
	return e.reconcile(states, following)
}

// reconcile apply the queue owner's playback to the local player, handling
// the owner having vanished or released this follower server side.
func (e *syncEngineImpl) reconcile(
	states []protocol.ListenerSharedState, following string,
) error {
	var self, owner *protocol.ListenerSharedState
	for idx, state := range states {
		if state.Username == e.username {
			self = &states[idx]
		}
		if state.Username == following {
			owner = &states[idx]
		}
	}

	// The server already released us when the owner disconnected or when our
	// session was evicted. Either way the queue is over.
	if owner == nil || self == nil || !self.InQueue() {
		e.lock.Lock()
		released := e.queueOwner == following
		e.queueOwner = ""
		snapshot := e.snapshot
		e.snapshot = nil
		e.lock.Unlock()
		if released {
			log.WithFields(e.LogTags).Infof("Released from '%s' queue", following)
			if snapshot != nil {
				if err := e.player.Restore(*snapshot); err != nil {
					log.WithError(err).WithFields(e.LogTags).Error("Failed to restore playback")
				}
			}
			e.notify(Event{Type: EventQueueLeft, QueueOwner: following})
		}
		return nil
	}

	return e.applyOwnerState(owner.State, time.Now())
}

// StartPolling begin periodic sync passes
func (e *syncEngineImpl) StartPolling() error {
	return e.timer.Start(e.pollInterval, func() error {
		ctxt, cancel := context.WithTimeout(e.rootCtxt, e.requestTimeout)
		defer cancel()
		if err := e.Poll(ctxt, false); err != nil && !errors.Is(err, ErrNoSession) {
			return err
		}
		return nil
	}, false)
}

// StopPolling halt periodic sync passes
func (e *syncEngineImpl) StopPolling() error {
	return e.timer.Stop()
}

// =======================================================================
// Queue membership

// JoinQueue start following the given listener's playback.
//
// The playback session is captured before the request so it can be restored
// when the follow ends, however it ends.
func (e *syncEngineImpl) JoinQueue(ctxt context.Context, ownerUsername string) error {
	id, err := e.currentSession()
	if err != nil {
		return err
	}
	snapshot := e.player.Snapshot()
	if err := e.recordOutcome(e.api.JoinQueue(ctxt, id, ownerUsername)); err != nil {
		return err
	}
	e.lock.Lock()
	// Re-parenting between queues keeps the snapshot from the first join
	if e.snapshot == nil {
		e.snapshot = &snapshot
	}
	e.queueOwner = ownerUsername
	e.lock.Unlock()
	log.WithFields(e.LogTags).Infof("Following '%s' queue", ownerUsername)
	e.notify(Event{Type: EventQueueJoined, QueueOwner: ownerUsername})
	return e.Poll(ctxt, true)
}

// LeaveQueue stop following, restoring the playback session captured at join.
// A rejection means the server already considers us out of the queue, which
// is the goal state, so it is not surfaced.
func (e *syncEngineImpl) LeaveQueue(ctxt context.Context) error {
	id, err := e.currentSession()
	if err != nil {
		return err
	}
	if err := e.recordOutcome(e.api.LeaveQueue(ctxt, id)); err != nil && !IsRejection(err) {
		return err
	}
	e.lock.Lock()
	owner := e.queueOwner
	e.queueOwner = ""
	snapshot := e.snapshot
	e.snapshot = nil
	e.lock.Unlock()
	if snapshot != nil {
		if err := e.player.Restore(*snapshot); err != nil {
			log.WithError(err).WithFields(e.LogTags).Error("Failed to restore playback")
		}
	}
	log.WithFields(e.LogTags).Infof("Left '%s' queue", owner)
	e.notify(Event{Type: EventQueueLeft, QueueOwner: owner})
	// Resume sharing our own playback
	return e.ReportPlayback(ctxt)
}

// =======================================================================
// Observation

// Subscribe receive engine notifications on a new channel
func (e *syncEngineImpl) Subscribe() <-chan Event {
	e.lock.Lock()
	defer e.lock.Unlock()
	subscriber := make(chan Event, 16)
	e.subscribers = append(e.subscribers, subscriber)
	return subscriber
}

// notify fan an event out to all subscribers without blocking
func (e *syncEngineImpl) notify(event Event) {
	e.lock.Lock()
	subscribers := make([]chan Event, len(e.subscribers))
	copy(subscribers, e.subscribers)
	e.lock.Unlock()
	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			log.WithFields(e.LogTags).Warn("Dropped event for slow subscriber")
		}
	}
}

// SessionID fetch the current session id, "" when disconnected
func (e *syncEngineImpl) SessionID() string {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.sessionID
}

// QueueOwner fetch the followed owner's username, if following
func (e *syncEngineImpl) QueueOwner() (string, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.queueOwner, e.queueOwner != ""
}

// CurrentListeners fetch the most recent listener snapshot
func (e *syncEngineImpl) CurrentListeners() []protocol.ListenerSharedState {
	e.lock.Lock()
	defer e.lock.Unlock()
	result := make([]protocol.ListenerSharedState, len(e.listeners))
	copy(result, e.listeners)
	return result
}
