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

// RepeatMode player repeat setting
type RepeatMode int

// Supported repeat settings
const (
	RepeatNone RepeatMode = iota
	RepeatAll
	RepeatOne
)

// PlaybackSnapshot captures the player's playback session so it can be
// restored after following someone else's queue.
type PlaybackSnapshot struct {
	// Tracks is the now playing list, as player track references
	Tracks []string
	// Position is the playback position in ms at capture time
	Position int64
	// Shuffle is the shuffle setting at capture time
	Shuffle bool
	// Repeat is the repeat setting at capture time
	Repeat RepeatMode
	// Playing whether playback was running at capture time
	Playing bool
}

// MediaPlayer is the local media player the sync engine drives.
//
// Track references are opaque strings meaningful only to the implementation,
// typically library file locations. The engine never inspects them; it
// resolves tracks through QueryTracks and hands the result straight back.
type MediaPlayer interface {
	// CurrentState fetch what the player is playing right now. An idle state
	// means stopped or paused.
	CurrentState() protocol.ListeningState
	// QueryTracks search the player's library for tracks matching the title
	// and album. An empty result means the track isn't available locally.
	QueryTracks(title string, album string) ([]string, error)
	// PlayTracks replace the now playing list with the given tracks and
	// start playback from the first
	PlayTracks(tracks []string) error
	// SetPosition seek the playing track to the given position in ms
	SetPosition(positionMS int64) error
	// SetShuffle change the shuffle setting
	SetShuffle(enabled bool) error
	// SetRepeat change the repeat setting
	SetRepeat(mode RepeatMode) error
	// Snapshot capture the current playback session
	Snapshot() PlaybackSnapshot
	// Restore bring back a previously captured playback session
	Restore(snapshot PlaybackSnapshot) error
}
