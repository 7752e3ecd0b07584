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

import "github.com/bloodlantern/listentogether/protocol"

// EventType sync engine notification type
type EventType int

// Sync engine notification types
const (
	// EventConnected the session was established
	EventConnected EventType = iota
	// EventDisconnected the session ended. Err is set when the engine
	// disconnected on its own after repeated transport failures.
	EventDisconnected
	// EventListenersUpdated a fresh listener state snapshot arrived
	EventListenersUpdated
	// EventQueueJoined the engine started following a queue
	EventQueueJoined
	// EventQueueLeft the engine stopped following a queue
	EventQueueLeft
)

// Event one sync engine notification
type Event struct {
	// Type is the notification type
	Type EventType
	// Listeners is the listener snapshot, set on EventListenersUpdated
	Listeners []protocol.ListenerSharedState
	// QueueOwner is the queue owner username, set on queue notifications
	QueueOwner string
	// Err is the cause, set on failure driven disconnects
	Err error
}

// GroupByOwner arrange a listener snapshot into queues. Keyed by the owner's
// username; listeners in nobody's queue appear under their own name.
func GroupByOwner(
	states []protocol.ListenerSharedState,
) map[string][]protocol.ListenerSharedState {
	result := make(map[string][]protocol.ListenerSharedState)
	// Owners and solo listeners anchor their own group
	for _, state := range states {
		if !state.InQueue() {
			result[state.Username] = append(result[state.Username], state)
		}
	}
	for _, state := range states {
		if state.InQueue() {
			result[*state.QueueOwner] = append(result[*state.QueueOwner], state)
		}
	}
	return result
}
