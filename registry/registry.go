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

// Package registry tracks connected listeners and the listening queues
// grouping them into owner / follower sets.
package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/bloodlantern/listentogether/protocol"
	"github.com/google/uuid"
)

// ListenerRegistry authoritative table of connected listener sessions and
// their listening queues.
//
// Sessions and queues share one critical section: a queue must never outlive
// the sessions it references, so all session lifecycle operations compose the
// matching queue cleanup atomically.
type ListenerRegistry interface {
	// Register create a new session for the username, returning the session id
	Register(ctxt context.Context, username string) (string, error)
	// Touch mark the session as active now
	Touch(ctxt context.Context, id string) error
	// Unregister remove the session, dissolving or leaving its queue first
	Unregister(ctxt context.Context, id string) error
	// SetState update the session's listening state. Implicitly touches.
	SetState(ctxt context.Context, id string, state protocol.ListeningState) error
	// ClearState mark the session as idle. Implicitly touches.
	ClearState(ctxt context.Context, id string) error
	// ListAll fetch a point-in-time snapshot of every connected listener
	ListAll(ctxt context.Context) []protocol.ListenerSharedState
	// ListenerCount fetch the number of connected listeners
	ListenerCount(ctxt context.Context) int
	// JoinQueue add the session as a follower of the named owner's queue
	JoinQueue(ctxt context.Context, followerID string, ownerUsername string) error
	// LeaveQueue remove the session from the queue it currently follows
	LeaveQueue(ctxt context.Context, followerID string) error
	// EvictInactive remove every session inactive for longer than the
	// threshold, returning the evicted usernames
	EvictInactive(ctxt context.Context, threshold time.Duration) []string
}

// musicListener one connected session. Owned by the registry.
type musicListener struct {
	id           string
	username     string
	lastActivity time.Time
	state        protocol.ListeningState
	// queueOwner username of the owner this session follows, "" when none
	queueOwner string
}

// listeningQueue one owner and the set of sessions mirroring it, keyed by
// follower session id
type listeningQueue struct {
	owner     *musicListener
	followers map[string]*musicListener
}

// listenerRegistryImpl implements ListenerRegistry
type listenerRegistryImpl struct {
	goutils.Component
	lock sync.Mutex
	// sessions by id, the authoritative table
	sessions map[string]*musicListener
	// byName index of connected sessions by username
	byName map[string]*musicListener
	// queues by owner session id
	queues map[string]*listeningQueue
}

// GetListenerRegistryInstance create new listener registry instance
func GetListenerRegistryInstance(instance string) (ListenerRegistry, error) {
	logTags := log.Fields{
		"module": "registry", "component": "listener-registry", "instance": instance,
	}
	return &listenerRegistryImpl{
		Component: goutils.Component{LogTags: logTags},
		sessions:  make(map[string]*musicListener),
		byName:    make(map[string]*musicListener),
		queues:    make(map[string]*listeningQueue),
	}, nil
}

// =======================================================================
// Session lifecycle

// Register create a new session for the username, returning the session id
func (r *listenerRegistryImpl) Register(
	ctxt context.Context, username string,
) (string, error) {
	// Usernames are identity keys, so surrounding whitespace must not mint
	// a distinct user
	username = strings.TrimSpace(username)
	if username == "" {
		return "", ErrInvalidUsername
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.byName[username]; ok {
		return "", ErrDuplicateUsername
	}
	newListener := &musicListener{
		id: uuid.NewString(), username: username, lastActivity: time.Now(),
	}
	r.sessions[newListener.id] = newListener
	r.byName[username] = newListener
	log.WithFields(r.LogTags).Infof("Listener '%s' connected", username)
	return newListener.id, nil
}

// Touch mark the session as active now
func (r *listenerRegistryImpl) Touch(ctxt context.Context, id string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	listener, ok := r.sessions[id]
	if !ok {
		return ErrNotConnected
	}
	listener.lastActivity = time.Now()
	return nil
}

// Unregister remove the session, dissolving or leaving its queue first
func (r *listenerRegistryImpl) Unregister(ctxt context.Context, id string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	listener, ok := r.sessions[id]
	if !ok {
		return ErrNotConnected
	}
	r.removeListenerLocked(listener)
	log.WithFields(r.LogTags).Infof("Listener '%s' disconnected", listener.username)
	return nil
}

// removeListenerLocked drop the session together with every queue reference
// to it. Caller must hold the lock.
func (r *listenerRegistryImpl) removeListenerLocked(listener *musicListener) {
	// Dissolve the queue this session owns
	if queue, ok := r.queues[listener.id]; ok {
		for _, follower := range queue.followers {
			follower.queueOwner = ""
		}
		delete(r.queues, listener.id)
	}
	// Leave the queue this session follows
	r.removeFollowerLocked(listener)
	delete(r.sessions, listener.id)
	delete(r.byName, listener.username)
}

// removeFollowerLocked detach the session from the queue it follows, if any.
// Idempotent. Caller must hold the lock.
func (r *listenerRegistryImpl) removeFollowerLocked(listener *musicListener) {
	if listener.queueOwner == "" {
		return
	}
	if owner, ok := r.byName[listener.queueOwner]; ok {
		if queue, ok := r.queues[owner.id]; ok {
			delete(queue.followers, listener.id)
			if len(queue.followers) == 0 {
				delete(r.queues, owner.id)
			}
		}
	}
	listener.queueOwner = ""
}

// =======================================================================
// Listening state

// SetState update the session's listening state. Implicitly touches.
func (r *listenerRegistryImpl) SetState(
	ctxt context.Context, id string, state protocol.ListeningState,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	listener, ok := r.sessions[id]
	if !ok {
		return ErrNotConnected
	}
	listener.state = state
	listener.lastActivity = time.Now()
	log.WithFields(r.LogTags).Debugf(
		"Listener '%s' now playing '%s'", listener.username, state.TrackTitle,
	)
	return nil
}

// ClearState mark the session as idle. Implicitly touches.
func (r *listenerRegistryImpl) ClearState(ctxt context.Context, id string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	listener, ok := r.sessions[id]
	if !ok {
		return ErrNotConnected
	}
	listener.state = protocol.ListeningState{}
	listener.lastActivity = time.Now()
	return nil
}

// ListAll fetch a point-in-time snapshot of every connected listener
func (r *listenerRegistryImpl) ListAll(ctxt context.Context) []protocol.ListenerSharedState {
	r.lock.Lock()
	defer r.lock.Unlock()
	result := make([]protocol.ListenerSharedState, 0, len(r.sessions))
	for _, listener := range r.sessions {
		shared := protocol.ListenerSharedState{
			Username: listener.username, State: listener.state,
		}
		if listener.queueOwner != "" {
			owner := listener.queueOwner
			shared.QueueOwner = &owner
		}
		result = append(result, shared)
	}
	return result
}

// ListenerCount fetch the number of connected listeners
func (r *listenerRegistryImpl) ListenerCount(ctxt context.Context) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.sessions)
}

// =======================================================================
// Listening queues

// JoinQueue add the session as a follower of the named owner's queue.
//
// Chained queues are rejected outright: the requested owner must not be
// following anyone, and the joiner must not currently own a queue with
// followers. A follower already in a different queue is re-parented.
func (r *listenerRegistryImpl) JoinQueue(
	ctxt context.Context, followerID string, ownerUsername string,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	follower, ok := r.sessions[followerID]
	if !ok {
		return ErrNotConnected
	}
	follower.lastActivity = time.Now()
	owner, ok := r.byName[strings.TrimSpace(ownerUsername)]
	if !ok {
		return ErrUnknownOwner
	}
	if owner.id == follower.id {
		return ErrSelfJoin
	}
	if owner.queueOwner != "" {
		return ErrNestedQueue
	}
	if queue, ok := r.queues[follower.id]; ok && len(queue.followers) > 0 {
		return ErrNestedQueue
	}
	if follower.queueOwner == ownerUsername {
		return nil
	}
	r.removeFollowerLocked(follower)
	queue, ok := r.queues[owner.id]
	if !ok {
		queue = &listeningQueue{owner: owner, followers: make(map[string]*musicListener)}
		r.queues[owner.id] = queue
	}
	queue.followers[follower.id] = follower
	follower.queueOwner = owner.username
	log.WithFields(r.LogTags).Infof(
		"Listener '%s' joined '%s' queue", follower.username, owner.username,
	)
	return nil
}

// LeaveQueue remove the session from the queue it currently follows
func (r *listenerRegistryImpl) LeaveQueue(ctxt context.Context, followerID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	follower, ok := r.sessions[followerID]
	if !ok {
		return ErrNotConnected
	}
	follower.lastActivity = time.Now()
	if follower.queueOwner == "" {
		return ErrNotInQueue
	}
	previousOwner := follower.queueOwner
	r.removeFollowerLocked(follower)
	log.WithFields(r.LogTags).Infof(
		"Listener '%s' left '%s' queue", follower.username, previousOwner,
	)
	return nil
}

// =======================================================================
// Liveness

// EvictInactive remove every session inactive for longer than the threshold,
// returning the evicted usernames. Uses the same cleanup path as Unregister.
func (r *listenerRegistryImpl) EvictInactive(
	ctxt context.Context, threshold time.Duration,
) []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	now := time.Now()
	var evicted []string
	for _, listener := range r.sessions {
		if now.Sub(listener.lastActivity) > threshold {
			evicted = append(evicted, listener.username)
		}
	}
	for _, username := range evicted {
		r.removeListenerLocked(r.byName[username])
		log.WithFields(r.LogTags).Infof("Evicted inactive listener '%s'", username)
	}
	return evicted
}
