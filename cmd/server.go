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
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/bloodlantern/listentogether/apis"
	"github.com/bloodlantern/listentogether/common"
	"github.com/bloodlantern/listentogether/registry"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunListenerServer run the listener server
func RunListenerServer(
	runTimeContext context.Context,
	config *common.ServerConfig,
	instance string,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "listener-server",
		"instance":  instance,
	}

	core, err := registry.GetListenerRegistryInstance(instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define listener registry")
		return err
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()

	sweeper, err := registry.GetInactivitySweeperInstance(
		localCtxt,
		wg,
		core,
		time.Second*time.Duration(config.Inactivity.SweepIntervalSec),
		time.Second*time.Duration(config.Inactivity.ThresholdSec),
		instance,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define inactivity sweeper")
		return err
	}
	if err := sweeper.Start(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start inactivity sweeper")
		return err
	}
	defer func() {
		_ = sweeper.Stop()
	}()

	httpHandler, err := apis.GetAPIRestListenerHandler(core, &config.HTTPSetting)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define HTTP handler")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, config.Endpoints.PathPrefix, nil)

	// Session lifecycle
	_ = apis.RegisterPathPrefix(mainRouter, "/connect", map[string]http.HandlerFunc{
		"get": httpHandler.ConnectHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/disconnect", map[string]http.HandlerFunc{
		"post": httpHandler.DisconnectHandler(),
	})

	// Listening activity and queues
	listenersRouter := apis.RegisterPathPrefix(mainRouter, "/listeners", nil)
	_ = apis.RegisterPathPrefix(listenersRouter, "/updateActivity", map[string]http.HandlerFunc{
		"post": httpHandler.UpdateActivityHandler(),
	})
	_ = apis.RegisterPathPrefix(listenersRouter, "/clearActivity", map[string]http.HandlerFunc{
		"post": httpHandler.ClearActivityHandler(),
	})
	_ = apis.RegisterPathPrefix(listenersRouter, "/states", map[string]http.HandlerFunc{
		"get": httpHandler.StatesHandler(),
	})
	_ = apis.RegisterPathPrefix(listenersRouter, "/joinQueue", map[string]http.HandlerFunc{
		"post": httpHandler.JoinQueueHandler(),
	})
	_ = apis.RegisterPathPrefix(listenersRouter, "/leaveQueue", map[string]http.HandlerFunc{
		"post": httpHandler.LeaveQueueHandler(),
	})

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": httpHandler.ReadyHandler(),
	})

	router.NotFoundHandler = apis.NotFoundHandler(logTags)

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(httpHandler, next)
	})

	serverListen := fmt.Sprintf(
		"%s:%d", config.HTTPSetting.Server.ListenOn, config.HTTPSetting.Server.Port,
	)
	httpSrv := &http.Server{
		Addr:         serverListen,
		WriteTimeout: time.Second * time.Duration(config.HTTPSetting.Server.WriteTimeout),
		ReadTimeout:  time.Second * time.Duration(config.HTTPSetting.Server.ReadTimeout),
		IdleTimeout:  time.Second * time.Duration(config.HTTPSetting.Server.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
