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

import (
	"context"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/bloodlantern/listentogether/protocol"
	"github.com/stretchr/testify/assert"
)

func TestListenerRegistration(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)
	utCtxt := context.Background()

	uut, err := GetListenerRegistryInstance("ut-registration")
	assert.Nil(err)

	// Case 0: username must not be empty or whitespace
	{
		_, err := uut.Register(utCtxt, "")
		assert.ErrorIs(err, ErrInvalidUsername)
		_, err = uut.Register(utCtxt, "   ")
		assert.ErrorIs(err, ErrInvalidUsername)
	}

	// Case 1: registration hands out distinct session ids
	id1, err := uut.Register(utCtxt, "alice")
	assert.Nil(err)
	assert.NotEmpty(id1)
	id2, err := uut.Register(utCtxt, "bob")
	assert.Nil(err)
	assert.NotEqual(id1, id2)
	assert.Equal(2, uut.ListenerCount(utCtxt))

	// Case 2: duplicate username rejected until the first session is removed
	{
		_, err := uut.Register(utCtxt, "alice")
		assert.ErrorIs(err, ErrDuplicateUsername)
		assert.Nil(uut.Unregister(utCtxt, id1))
		id3, err := uut.Register(utCtxt, "alice")
		assert.Nil(err)
		assert.NotEqual(id1, id3)
	}

	// Case 3: a second unregister observes NotConnected and changes nothing
	{
		assert.ErrorIs(uut.Unregister(utCtxt, id1), ErrNotConnected)
		assert.Equal(2, uut.ListenerCount(utCtxt))
	}

	// Case 4: touch on an unknown session
	assert.ErrorIs(uut.Touch(utCtxt, id1), ErrNotConnected)
	assert.Nil(uut.Touch(utCtxt, id2))

	// Case 5: surrounding whitespace does not mint a distinct identity
	{
		_, err := uut.Register(utCtxt, "  bob  ")
		assert.ErrorIs(err, ErrDuplicateUsername)
		carolID, err := uut.Register(utCtxt, " carol ")
		assert.Nil(err)
		byName := sharedStateByName(uut.ListAll(utCtxt))
		_, ok := byName["carol"]
		assert.True(ok)
		// Queue owner lookups see the same normalized name
		assert.Nil(uut.JoinQueue(utCtxt, carolID, " bob "))
		byName = sharedStateByName(uut.ListAll(utCtxt))
		assert.Equal("bob", *byName["carol"].QueueOwner)
	}
}

func TestListeningStateUpdates(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	uut, err := GetListenerRegistryInstance("ut-state")
	assert.Nil(err)

	id, err := uut.Register(utCtxt, "alice")
	assert.Nil(err)

	playing := protocol.ListeningState{
		TrackTitle:   "Song",
		TrackArtists: "Art",
		TrackAlbum:   "Album",
		Position:     30000,
		CapturedAt:   time.Now(),
	}
	assert.Nil(uut.SetState(utCtxt, id, playing))

	states := uut.ListAll(utCtxt)
	assert.Len(states, 1)
	assert.Equal("alice", states[0].Username)
	assert.False(states[0].State.IsIdle())
	assert.Equal("Song", states[0].State.TrackTitle)
	assert.Nil(states[0].QueueOwner)

	assert.Nil(uut.ClearState(utCtxt, id))
	states = uut.ListAll(utCtxt)
	assert.True(states[0].State.IsIdle())

	assert.ErrorIs(uut.SetState(utCtxt, "unknown", playing), ErrNotConnected)
	assert.ErrorIs(uut.ClearState(utCtxt, "unknown"), ErrNotConnected)
}

func TestListeningQueueMembership(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	uut, err := GetListenerRegistryInstance("ut-queue")
	assert.Nil(err)

	aliceID, err := uut.Register(utCtxt, "alice")
	assert.Nil(err)
	bobID, err := uut.Register(utCtxt, "bob")
	assert.Nil(err)
	carolID, err := uut.Register(utCtxt, "carol")
	assert.Nil(err)

	// Case 0: basic rejections
	assert.ErrorIs(uut.JoinQueue(utCtxt, "unknown", "alice"), ErrNotConnected)
	assert.ErrorIs(uut.JoinQueue(utCtxt, bobID, "dave"), ErrUnknownOwner)
	assert.ErrorIs(uut.JoinQueue(utCtxt, aliceID, "alice"), ErrSelfJoin)
	assert.ErrorIs(uut.LeaveQueue(utCtxt, bobID), ErrNotInQueue)

	// Case 1: bob and carol follow alice
	assert.Nil(uut.JoinQueue(utCtxt, bobID, "alice"))
	assert.Nil(uut.JoinQueue(utCtxt, carolID, "alice"))
	{
		byName := sharedStateByName(uut.ListAll(utCtxt))
		assert.Nil(byName["alice"].QueueOwner)
		assert.Equal("alice", *byName["bob"].QueueOwner)
		assert.Equal("alice", *byName["carol"].QueueOwner)
	}

	// Case 2: queues can't be chained in either direction
	{
		daveID, err := uut.Register(utCtxt, "dave")
		assert.Nil(err)
		// bob is following alice, so nobody can join bob's queue
		assert.ErrorIs(uut.JoinQueue(utCtxt, daveID, "bob"), ErrNestedQueue)
		// alice owns a queue with followers, so she can't follow anyone
		assert.Nil(uut.JoinQueue(utCtxt, carolID, "alice"))
		assert.ErrorIs(uut.JoinQueue(utCtxt, aliceID, "dave"), ErrNestedQueue)
		assert.Nil(uut.Unregister(utCtxt, daveID))
	}

	// Case 3: a follower leaving a queue of 2 does not affect the owner or
	// the other follower
	assert.Nil(uut.LeaveQueue(utCtxt, carolID))
	{
		byName := sharedStateByName(uut.ListAll(utCtxt))
		assert.Nil(byName["alice"].QueueOwner)
		assert.Nil(byName["carol"].QueueOwner)
		assert.Equal("alice", *byName["bob"].QueueOwner)
	}

	// Case 4: leaving twice is an error
	assert.ErrorIs(uut.LeaveQueue(utCtxt, carolID), ErrNotInQueue)
}

func TestQueueOwnerDisconnect(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	uut, err := GetListenerRegistryInstance("ut-owner-disconnect")
	assert.Nil(err)

	ownerID, err := uut.Register(utCtxt, "owner")
	assert.Nil(err)
	followerAID, err := uut.Register(utCtxt, "follower-a")
	assert.Nil(err)
	followerBID, err := uut.Register(utCtxt, "follower-b")
	assert.Nil(err)

	assert.Nil(uut.JoinQueue(utCtxt, followerAID, "owner"))
	assert.Nil(uut.JoinQueue(utCtxt, followerBID, "owner"))

	// Disconnecting the owner releases every follower atomically
	assert.Nil(uut.Unregister(utCtxt, ownerID))
	byName := sharedStateByName(uut.ListAll(utCtxt))
	assert.Len(byName, 2)
	assert.Nil(byName["follower-a"].QueueOwner)
	assert.Nil(byName["follower-b"].QueueOwner)

	// Both followers can now be followed again
	assert.Nil(uut.JoinQueue(utCtxt, followerAID, "follower-b"))
}

func TestFollowerReparenting(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	uut, err := GetListenerRegistryInstance("ut-reparent")
	assert.Nil(err)

	_, err = uut.Register(utCtxt, "alice")
	assert.Nil(err)
	_, err = uut.Register(utCtxt, "bob")
	assert.Nil(err)
	carolID, err := uut.Register(utCtxt, "carol")
	assert.Nil(err)

	assert.Nil(uut.JoinQueue(utCtxt, carolID, "alice"))
	// Switching queues implicitly leaves the previous one
	assert.Nil(uut.JoinQueue(utCtxt, carolID, "bob"))

	byName := sharedStateByName(uut.ListAll(utCtxt))
	assert.Equal("bob", *byName["carol"].QueueOwner)
}

func TestInactiveEviction(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	uut, err := GetListenerRegistryInstance("ut-eviction")
	assert.Nil(err)

	ownerID, err := uut.Register(utCtxt, "owner")
	assert.Nil(err)
	followerID, err := uut.Register(utCtxt, "follower")
	assert.Nil(err)
	assert.Nil(uut.JoinQueue(utCtxt, followerID, "owner"))

	// Case 0: nothing is inactive against a generous threshold
	assert.Empty(uut.EvictInactive(utCtxt, time.Hour))
	assert.Equal(2, uut.ListenerCount(utCtxt))

	// Case 1: keep the follower active, let the owner go stale
	time.Sleep(time.Millisecond * 20)
	assert.Nil(uut.Touch(utCtxt, followerID))
	evicted := uut.EvictInactive(utCtxt, time.Millisecond*10)
	assert.Equal([]string{"owner"}, evicted)

	byName := sharedStateByName(uut.ListAll(utCtxt))
	assert.Len(byName, 1)
	assert.Nil(byName["follower"].QueueOwner)

	// Eviction uses the same cleanup path as disconnect
	assert.ErrorIs(uut.Touch(utCtxt, ownerID), ErrNotConnected)
}

func sharedStateByName(states []protocol.ListenerSharedState) map[string]protocol.ListenerSharedState {
	result := make(map[string]protocol.ListenerSharedState)
	for _, state := range states {
		result[state.Username] = state
	}
	return result
}
