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
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/bloodlantern/listentogether/common"
)

// InactivitySweeper periodically evicts sessions which stopped sending
// requests without disconnecting explicitly.
//
// This is the only server initiated session removal besides explicit
// disconnect. Sweeps run sequentially on one timer goroutine and go through
// the registry's normal eviction path, so queue cleanup invariants hold.
type InactivitySweeper interface {
	Start() error
	Stop() error
}

// inactivitySweeperImpl implements InactivitySweeper
type inactivitySweeperImpl struct {
	goutils.Component
	registry  ListenerRegistry
	timer     common.IntervalTimer
	rootCtxt  context.Context
	interval  time.Duration
	threshold time.Duration
}

// GetInactivitySweeperInstance create new inactivity sweeper instance
func GetInactivitySweeperInstance(
	rootCtxt context.Context,
	wg *sync.WaitGroup,
	registry ListenerRegistry,
	interval time.Duration,
	threshold time.Duration,
	instance string,
) (InactivitySweeper, error) {
	logTags := log.Fields{
		"module": "registry", "component": "inactivity-sweeper", "instance": instance,
	}
	timer, err := common.GetIntervalTimerInstance("inactivity-sweep", rootCtxt, wg)
	if err != nil {
		return nil, err
	}
	return &inactivitySweeperImpl{
		Component: goutils.Component{LogTags: logTags},
		registry:  registry,
		timer:     timer,
		rootCtxt:  rootCtxt,
		interval:  interval,
		threshold: threshold,
	}, nil
}

// Start start the periodic sweep
func (s *inactivitySweeperImpl) Start() error {
	return s.timer.Start(s.interval, s.sweep, false)
}

// Stop stop the periodic sweep
func (s *inactivitySweeperImpl) Stop() error {
	return s.timer.Stop()
}

// sweep run one eviction pass
func (s *inactivitySweeperImpl) sweep() error {
	evicted := s.registry.EvictInactive(s.rootCtxt, s.threshold)
	if len(evicted) > 0 {
		log.WithFields(s.LogTags).Infof(
			"Swept %d inactive listeners: %v", len(evicted), evicted,
		)
	}
	return nil
}
