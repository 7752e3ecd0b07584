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
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/bloodlantern/listentogether/protocol"
)

// headless track references are "title<US>album", synthesized on query and
// decoded again on play
const headlessTrackSep = "\x1f"

// headlessPlayerImpl implements MediaPlayer without a real player behind it.
//
// Playback is simulated on the wall clock. Every track a queue owner plays
// "exists" in the library, so the headless client can shadow any queue. It is
// the player used when running the sync client standalone.
type headlessPlayerImpl struct {
	goutils.Component
	lock sync.Mutex
	// playing track metadata, zero value when idle
	current protocol.ListeningState
	tracks  []string
	shuffle bool
	repeat  RepeatMode
}

// GetHeadlessPlayerInstance create new headless player instance
func GetHeadlessPlayerInstance(instance string) MediaPlayer {
	logTags := log.Fields{
		"module": "client", "component": "headless-player", "instance": instance,
	}
	return &headlessPlayerImpl{Component: goutils.Component{LogTags: logTags}}
}

// CurrentState fetch what the player is playing right now
func (p *headlessPlayerImpl) CurrentState() protocol.ListeningState {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.current.IsIdle() {
		return protocol.ListeningState{}
	}
	// Project the stored snapshot forward so the position keeps moving
	state := p.current
	state.Position = state.PositionAt(time.Now())
	state.CapturedAt = time.Now()
	return state
}

// QueryTracks search the simulated library. Every track matches.
func (p *headlessPlayerImpl) QueryTracks(title string, album string) ([]string, error) {
	return []string{fmt.Sprintf("%s%s%s", title, headlessTrackSep, album)}, nil
}

// PlayTracks replace the now playing list and start from the first track
func (p *headlessPlayerImpl) PlayTracks(tracks []string) error {
	if len(tracks) == 0 {
		return fmt.Errorf("no tracks to play")
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	p.tracks = tracks
	parts := strings.SplitN(tracks[0], headlessTrackSep, 2)
	p.current = protocol.ListeningState{
		TrackTitle: parts[0], CapturedAt: time.Now(),
	}
	if len(parts) == 2 {
		p.current.TrackAlbum = parts[1]
	}
	log.WithFields(p.LogTags).Infof("Now playing '%s'", p.current.TrackTitle)
	return nil
}

// SetPosition seek the playing track
func (p *headlessPlayerImpl) SetPosition(positionMS int64) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.current.IsIdle() {
		return fmt.Errorf("nothing is playing")
	}
	p.current.Position = positionMS
	p.current.CapturedAt = time.Now()
	log.WithFields(p.LogTags).Infof(
		"Seeked '%s' to %dms", p.current.TrackTitle, positionMS,
	)
	return nil
}

// SetShuffle change the shuffle setting
func (p *headlessPlayerImpl) SetShuffle(enabled bool) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.shuffle = enabled
	return nil
}

// SetRepeat change the repeat setting
func (p *headlessPlayerImpl) SetRepeat(mode RepeatMode) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.repeat = mode
	return nil
}

// Snapshot capture the current playback session
func (p *headlessPlayerImpl) Snapshot() PlaybackSnapshot {
	p.lock.Lock()
	defer p.lock.Unlock()
	snapshot := PlaybackSnapshot{
		Tracks:   append([]string{}, p.tracks...),
		Shuffle:  p.shuffle,
		Repeat:   p.repeat,
		Playing:  !p.current.IsIdle(),
		Position: 0,
	}
	if snapshot.Playing {
		snapshot.Position = p.current.PositionAt(time.Now())
	}
	return snapshot
}

// Restore bring back a previously captured playback session
func (p *headlessPlayerImpl) Restore(snapshot PlaybackSnapshot) error {
	p.lock.Lock()
	p.shuffle = snapshot.Shuffle
	p.repeat = snapshot.Repeat
	p.tracks = nil
	p.current = protocol.ListeningState{}
	p.lock.Unlock()
	if !snapshot.Playing || len(snapshot.Tracks) == 0 {
		log.WithFields(p.LogTags).Info("Restored idle playback session")
		return nil
	}
	if err := p.PlayTracks(snapshot.Tracks); err != nil {
		return err
	}
	return p.SetPosition(snapshot.Position)
}
