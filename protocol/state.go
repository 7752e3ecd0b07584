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

// Package protocol defines the wire contract between the listentogether
// server and its clients. Both sides marshal these exact shapes; nothing
// here has an independent lifecycle.
package protocol

import "time"

// ListeningState describes what one listener is currently playing.
//
// An empty TrackTitle means the listener is idle. Position and CapturedAt
// together form a time-stamped snapshot: the playback position in
// milliseconds, and the instant it was read off the player. Followers use
// the pair to project where the owner is "now".
type ListeningState struct {
	// TrackTitle is the playing track's title
	TrackTitle string `json:"trackTitle,omitempty" validate:"required"`
	// TrackArtists is the playing track's artist list as a display string
	TrackArtists string `json:"trackArtists,omitempty"`
	// TrackAlbum is the playing track's album
	TrackAlbum string `json:"trackAlbum,omitempty"`
	// Position is the playback position in ms when the snapshot was taken
	Position int64 `json:"position"`
	// CapturedAt is when the snapshot was taken on the reporting client
	CapturedAt time.Time `json:"capturedAt,omitempty"`
}

// IsIdle whether this state represents "not playing anything"
func (s ListeningState) IsIdle() bool {
	return s.TrackTitle == ""
}

// SameTrackAs whether both states refer to the same track.
//
// Track identity is keyed on title and album. Artist tags are too
// inconsistent between libraries to take part in the comparison.
func (s ListeningState) SameTrackAs(other ListeningState) bool {
	return s.TrackTitle == other.TrackTitle && s.TrackAlbum == other.TrackAlbum
}

// PositionAt project the playback position forward to the given instant,
// assuming playback continued uninterrupted since CapturedAt.
func (s ListeningState) PositionAt(now time.Time) int64 {
	return s.Position + now.Sub(s.CapturedAt).Milliseconds()
}

// ListenerSharedState is the externally visible projection of one connected
// listener, computed fresh on every states request.
type ListenerSharedState struct {
	// Username is the listener's display identity
	Username string `json:"username" validate:"required"`
	// State is the listener's current listening state
	State ListeningState `json:"state"`
	// QueueOwner is the username of the queue owner this listener follows,
	// or null when the listener is not in a queue
	QueueOwner *string `json:"queueOwner"`
}

// InQueue whether this listener is following someone's queue
func (s ListenerSharedState) InQueue() bool {
	return s.QueueOwner != nil
}
