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
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bloodlantern/listentogether/apis"
	"github.com/bloodlantern/listentogether/common"
	"github.com/bloodlantern/listentogether/protocol"
	"github.com/bloodlantern/listentogether/registry"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

// defineTestServer spin up a real listener server on a local port
func defineTestServer(t *testing.T, instance string) *httptest.Server {
	core, err := registry.GetListenerRegistryInstance(instance)
	assert.Nil(t, err)
	handler, err := apis.GetAPIRestListenerHandler(core, &common.HTTPConfig{
		Logging: common.HTTPRequestLogging{
			RequestIDHeader: "Listentogether-Request-ID",
		},
	})
	assert.Nil(t, err)

	router := mux.NewRouter()
	apis.RegisterPathPrefix(router, "/connect", map[string]http.HandlerFunc{
		"get": handler.ConnectHandler(),
	})
	apis.RegisterPathPrefix(router, "/disconnect", map[string]http.HandlerFunc{
		"post": handler.DisconnectHandler(),
	})
	apis.RegisterPathPrefix(router, "/listeners/updateActivity", map[string]http.HandlerFunc{
		"post": handler.UpdateActivityHandler(),
	})
	apis.RegisterPathPrefix(router, "/listeners/clearActivity", map[string]http.HandlerFunc{
		"post": handler.ClearActivityHandler(),
	})
	apis.RegisterPathPrefix(router, "/listeners/states", map[string]http.HandlerFunc{
		"get": handler.StatesHandler(),
	})
	apis.RegisterPathPrefix(router, "/listeners/joinQueue", map[string]http.HandlerFunc{
		"post": handler.JoinQueueHandler(),
	})
	apis.RegisterPathPrefix(router, "/listeners/leaveQueue", map[string]http.HandlerFunc{
		"post": handler.LeaveQueueHandler(),
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func TestServerAPIRoundTrip(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	server := defineTestServer(t, "ut-api-roundtrip")
	uut, err := GetServerAPIInstance(server.URL, time.Second*5)
	assert.Nil(err)
	defer uut.Close()

	// Case 0: connect two listeners
	aliceID, err := uut.Connect(utCtxt, "alice")
	assert.Nil(err)
	assert.NotEmpty(aliceID)
	bobID, err := uut.Connect(utCtxt, "bob")
	assert.Nil(err)

	// Case 1: duplicate username is a rejection, not a transport failure
	{
		_, err := uut.Connect(utCtxt, "alice")
		assert.NotNil(err)
		assert.True(IsRejection(err))
	}

	// Case 2: alice reports a track, bob stays idle
	reported := protocol.ListeningState{
		TrackTitle:   "Song",
		TrackArtists: "Art",
		TrackAlbum:   "Album",
		Position:     30000,
		CapturedAt:   time.Now().UTC(),
	}
	assert.Nil(uut.UpdateActivity(utCtxt, aliceID, reported))

	states, err := uut.ListenerStates(utCtxt)
	assert.Nil(err)
	assert.Len(states, 2)
	byName := map[string]protocol.ListenerSharedState{}
	for _, state := range states {
		byName[state.Username] = state
	}
	assert.Equal("Song", byName["alice"].State.TrackTitle)
	assert.Equal(int64(30000), byName["alice"].State.Position)
	assert.True(byName["bob"].State.IsIdle())

	// Case 3: bob follows alice
	assert.Nil(uut.JoinQueue(utCtxt, bobID, "alice"))
	states, err = uut.ListenerStates(utCtxt)
	assert.Nil(err)
	for _, state := range states {
		if state.Username == "bob" {
			assert.True(state.InQueue())
			assert.Equal("alice", *state.QueueOwner)
		}
	}

	// Case 4: self join is a rejection
	assert.True(IsRejection(uut.JoinQueue(utCtxt, aliceID, "alice")))

	// Case 5: leave once succeeds, twice is a rejection
	assert.Nil(uut.LeaveQueue(utCtxt, bobID))
	assert.True(IsRejection(uut.LeaveQueue(utCtxt, bobID)))

	// Case 6: clear activity then disconnect both
	assert.Nil(uut.ClearActivity(utCtxt, aliceID))
	assert.Nil(uut.Disconnect(utCtxt, aliceID))
	assert.Nil(uut.Disconnect(utCtxt, bobID))
	assert.True(IsRejection(uut.Disconnect(utCtxt, bobID)))

	states, err = uut.ListenerStates(utCtxt)
	assert.Nil(err)
	assert.Empty(states)
}

func TestServerAPITransportFailure(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	// Nothing is listening here
	uut, err := GetServerAPIInstance("http://127.0.0.1:1", time.Millisecond*250)
	assert.Nil(err)
	defer uut.Close()

	_, err = uut.Connect(utCtxt, "alice")
	assert.NotNil(err)
	assert.False(IsRejection(err))
}

func TestSyncEngineAgainstLiveServer(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	server := defineTestServer(t, "ut-live-engine")
	syncConfig := common.SyncConfig{
		PollIntervalSec: 1, DriftThresholdMS: 5000, FailureWindowSec: 10,
		RequestTimeoutSec: 5,
	}

	// The queue owner is a plain API client
	ownerAPI, err := GetServerAPIInstance(server.URL, time.Second*5)
	assert.Nil(err)
	defer ownerAPI.Close()
	ownerID, err := ownerAPI.Connect(utCtxt, "owner")
	assert.Nil(err)
	assert.Nil(ownerAPI.UpdateActivity(utCtxt, ownerID, protocol.ListeningState{
		TrackTitle: "Song", TrackAlbum: "Album",
		Position: 30000, CapturedAt: time.Now().UTC(),
	}))

	// The follower runs the full engine with a headless player
	followerAPI, err := GetServerAPIInstance(server.URL, time.Second*5)
	assert.Nil(err)
	wg := sync.WaitGroup{}
	defer wg.Wait()
	player := GetHeadlessPlayerInstance("ut-live")
	engine, err := GetSyncEngineInstance(
		utCtxt, &wg, followerAPI, player, "follower", syncConfig, "ut-live",
	)
	assert.Nil(err)

	assert.Nil(engine.Connect(utCtxt))
	assert.Nil(engine.JoinQueue(utCtxt, "owner"))

	// The forced poll inside join already mirrored the owner
	listeners := engine.CurrentListeners()
	assert.Len(listeners, 2)
	grouped := GroupByOwner(listeners)
	assert.Len(grouped["owner"], 2)
	{
		mirrored := player.CurrentState()
		assert.Equal("Song", mirrored.TrackTitle)
		assert.Equal("Album", mirrored.TrackAlbum)
		assert.InDelta(30000, mirrored.Position, 2000)
	}

	assert.Nil(engine.LeaveQueue(utCtxt))
	// The playback session from before the follow was idle
	assert.True(player.CurrentState().IsIdle())
	assert.Nil(engine.Disconnect(utCtxt))
	assert.Nil(ownerAPI.Disconnect(utCtxt, ownerID))
}
