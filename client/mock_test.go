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
	"fmt"
	"sync"
	"time"

	"github.com/bloodlantern/listentogether/protocol"
)

// mockPlayer scripted MediaPlayer recording every call
type mockPlayer struct {
	lock     sync.Mutex
	current  protocol.ListeningState
	library  map[string][]string
	refMeta  map[string]protocol.ListeningState
	snapshot PlaybackSnapshot

	played   [][]string
	seeks    []int64
	shuffles []bool
	repeats  []RepeatMode
	restored []PlaybackSnapshot
}

func newMockPlayer() *mockPlayer {
	return &mockPlayer{
		library: make(map[string][]string),
		refMeta: make(map[string]protocol.ListeningState),
	}
}

func (p *mockPlayer) addTrack(title, album, ref string) {
	key := title + "|" + album
	p.library[key] = append(p.library[key], ref)
	p.refMeta[ref] = protocol.ListeningState{TrackTitle: title, TrackAlbum: album}
}

func (p *mockPlayer) CurrentState() protocol.ListeningState {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.current
}

func (p *mockPlayer) QueryTracks(title string, album string) ([]string, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.library[title+"|"+album], nil
}

func (p *mockPlayer) PlayTracks(tracks []string) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.played = append(p.played, tracks)
	if meta, ok := p.refMeta[tracks[0]]; ok {
		p.current = meta
		p.current.CapturedAt = time.Now()
	}
	return nil
}

func (p *mockPlayer) SetPosition(positionMS int64) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.seeks = append(p.seeks, positionMS)
	p.current.Position = positionMS
	p.current.CapturedAt = time.Now()
	return nil
}

func (p *mockPlayer) SetShuffle(enabled bool) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.shuffles = append(p.shuffles, enabled)
	return nil
}

func (p *mockPlayer) SetRepeat(mode RepeatMode) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.repeats = append(p.repeats, mode)
	return nil
}

func (p *mockPlayer) Snapshot() PlaybackSnapshot {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.snapshot
}

func (p *mockPlayer) Restore(snapshot PlaybackSnapshot) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.restored = append(p.restored, snapshot)
	p.current = protocol.ListeningState{}
	return nil
}

// mockServerAPI in-memory ServerAPI with a switchable transport failure mode
type mockServerAPI struct {
	lock    sync.Mutex
	failing bool
	states  []protocol.ListenerSharedState

	connectCalls int
	statesCalls  int
	updateCalls  int
	clearCalls   int
}

func (m *mockServerAPI) setFailing(failing bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.failing = failing
}

func (m *mockServerAPI) setStates(states []protocol.ListenerSharedState) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.states = states
}

func (m *mockServerAPI) transportError() error {
	return fmt.Errorf("dial tcp: connection refused")
}

func (m *mockServerAPI) Connect(ctxt context.Context, username string) (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.connectCalls++
	if m.failing {
		return "", m.transportError()
	}
	return "mock-session", nil
}

func (m *mockServerAPI) Disconnect(ctxt context.Context, id string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.failing {
		return m.transportError()
	}
	return nil
}

func (m *mockServerAPI) UpdateActivity(
	ctxt context.Context, id string, state protocol.ListeningState,
) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.updateCalls++
	if m.failing {
		return m.transportError()
	}
	return nil
}

func (m *mockServerAPI) ClearActivity(ctxt context.Context, id string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.clearCalls++
	if m.failing {
		return m.transportError()
	}
	return nil
}

func (m *mockServerAPI) ListenerStates(
	ctxt context.Context,
) ([]protocol.ListenerSharedState, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.statesCalls++
	if m.failing {
		return nil, m.transportError()
	}
	result := make([]protocol.ListenerSharedState, len(m.states))
	copy(result, m.states)
	return result, nil
}

func (m *mockServerAPI) JoinQueue(
	ctxt context.Context, id string, ownerUsername string,
) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.failing {
		return m.transportError()
	}
	return nil
}

func (m *mockServerAPI) LeaveQueue(ctxt context.Context, id string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.failing {
		return m.transportError()
	}
	return nil
}

func (m *mockServerAPI) Close() {}
