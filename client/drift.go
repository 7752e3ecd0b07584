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
	"time"

	"github.com/apex/log"
	"github.com/bloodlantern/listentogether/protocol"
)

// applyOwnerState reconcile the local player against the queue owner's
// time-stamped playback snapshot.
//
// Small drift is left alone; constant seeking sounds worse than being a few
// seconds apart. An idle owner changes nothing, and a track with no local
// match leaves current playback untouched until the owner moves on.
func (e *syncEngineImpl) applyOwnerState(
	ownerState protocol.ListeningState, now time.Time,
) error {
	if ownerState.IsIdle() {
		return nil
	}

	local := e.player.CurrentState()
	if local.IsIdle() || !local.SameTrackAs(ownerState) {
		tracks, err := e.player.QueryTracks(ownerState.TrackTitle, ownerState.TrackAlbum)
		if err != nil {
			return err
		}
		if len(tracks) == 0 {
			log.WithFields(e.LogTags).Warnf(
				"No local match for '%s' from '%s'",
				ownerState.TrackTitle, ownerState.TrackAlbum,
			)
			return nil
		}
		// Shuffle or repeat would take the mirror off course at track end
		if err := e.player.SetShuffle(false); err != nil {
			return err
		}
		if err := e.player.SetRepeat(RepeatNone); err != nil {
			return err
		}
		if err := e.player.PlayTracks(tracks); err != nil {
			return err
		}
		return e.player.SetPosition(ownerState.PositionAt(now))
	}

	expected := ownerState.PositionAt(now)
	drift := local.PositionAt(now) - expected
	if drift < 0 {
		drift = -drift
	}
	if drift > e.driftThreshold {
		log.WithFields(e.LogTags).Infof("Playback drifted %dms, seeking", drift)
		return e.player.SetPosition(expected)
	}
	return nil
}
