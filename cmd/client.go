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

package cmd

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/bloodlantern/listentogether/client"
	"github.com/bloodlantern/listentogether/common"
	"github.com/urfave/cli/v2"
)

// ClientCLIArgs arguments
type ClientCLIArgs struct {
	// FollowUser queue owner to start following right after connecting
	FollowUser string
}

// GetClientCLIFlags retrieve the set of CMD flags for the sync client
func GetClientCLIFlags(args *ClientCLIArgs) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "follow",
			Usage:       "Queue owner username to follow after connecting",
			Aliases:     []string{"f"},
			EnvVars:     []string{"FOLLOW_USER"},
			Value:       "",
			DefaultText: "",
			Destination: &args.FollowUser,
			Required:    false,
		},
	}
}

// RunSyncClient run the headless sync client
func RunSyncClient(
	runTimeContext context.Context,
	params ClientCLIArgs,
	config *common.ClientConfig,
	instance string,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "sync-client",
		"instance":  instance,
	}

	requestTimeout := time.Second * time.Duration(config.Sync.RequestTimeoutSec)
	api, err := client.GetServerAPIInstance(config.ServerURI, requestTimeout)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Unable to define server API with %s", config.ServerURI,
		)
		return err
	}

	player := client.GetHeadlessPlayerInstance(instance)
	engine, err := client.GetSyncEngineInstance(
		runTimeContext, wg, api, player, config.Username, config.Sync, instance,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define sync engine")
		return err
	}
	subscriber := engine.Subscribe()

	{
		ctxt, cancel := context.WithTimeout(runTimeContext, requestTimeout)
		defer cancel()
		if err := engine.Connect(ctxt); err != nil {
			log.WithError(err).WithFields(logTags).Errorf(
				"Unable to connect to %s", config.ServerURI,
			)
			return err
		}
		if err := engine.ReportPlayback(ctxt); err != nil {
			log.WithError(err).WithFields(logTags).Error("Initial playback report failed")
		}
		if params.FollowUser != "" {
			if err := engine.JoinQueue(ctxt, params.FollowUser); err != nil {
				log.WithError(err).WithFields(logTags).Errorf(
					"Unable to join '%s' queue", params.FollowUser,
				)
			}
		}
	}

	if err := engine.StartPolling(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start polling")
		return err
	}

	// ============================================================================

	for {
		select {
		case <-runTimeContext.Done():
			ctxt, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			return engine.Disconnect(ctxt)
		case event := <-subscriber:
			switch event.Type {
			case client.EventListenersUpdated:
				grouped := client.GroupByOwner(event.Listeners)
				log.WithFields(logTags).Debugf(
					"%d listeners in %d queues", len(event.Listeners), len(grouped),
				)
			case client.EventQueueJoined:
				log.WithFields(logTags).Infof("Following '%s' queue", event.QueueOwner)
			case client.EventQueueLeft:
				log.WithFields(logTags).Infof("No longer following '%s'", event.QueueOwner)
			case client.EventDisconnected:
				if event.Err != nil {
					log.WithError(event.Err).WithFields(logTags).Error(
						"Session ended by failure detector",
					)
					return event.Err
				}
				return nil
			}
		}
	}
}
