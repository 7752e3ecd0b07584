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

package registry

import "errors"

// Rejection taxonomy for registry operations. Every rejection is scoped to
// one call and leaves registry state unchanged; the REST layer surfaces all
// of these as HTTP 400.
var (
	// ErrInvalidUsername username is empty or whitespace
	ErrInvalidUsername = errors.New("invalid username")
	// ErrDuplicateUsername another session is already connected with that username
	ErrDuplicateUsername = errors.New("user is already connected")
	// ErrNotConnected no session exists for the given id
	ErrNotConnected = errors.New("user isn't connected")
	// ErrUnknownOwner no connected session has the requested owner username
	ErrUnknownOwner = errors.New("no connected user has that username")
	// ErrSelfJoin a session tried to join its own queue
	ErrSelfJoin = errors.New("can't join your own listening queue")
	// ErrNestedQueue the join would chain queues: either the requested owner
	// is themselves following someone, or the joiner currently owns a queue
	// with followers
	ErrNestedQueue = errors.New("listening queues can't be nested")
	// ErrNotInQueue the session isn't following anyone
	ErrNotInQueue = errors.New("user isn't in a listening queue")
)

// IsRejection whether the error belongs to the registry rejection taxonomy
func IsRejection(err error) bool {
	for _, candidate := range []error{
		ErrInvalidUsername,
		ErrDuplicateUsername,
		ErrNotConnected,
		ErrUnknownOwner,
		ErrSelfJoin,
		ErrNestedQueue,
		ErrNotInQueue,
	} {
		if errors.Is(err, candidate) {
			return true
		}
	}
	return false
}
