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

package apis

import (
	"encoding/json"
	"net/http"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/bloodlantern/listentogether/common"
	"github.com/bloodlantern/listentogether/protocol"
	"github.com/bloodlantern/listentogether/registry"
	"github.com/go-playground/validator/v10"
)

// APIRestListenerHandler REST handler for the listener session / queue APIs
type APIRestListenerHandler struct {
	goutils.RestAPIHandler
	core     registry.ListenerRegistry
	validate *validator.Validate
}

// GetAPIRestListenerHandler define APIRestListenerHandler
func GetAPIRestListenerHandler(
	core registry.ListenerRegistry,
	httpConfig *common.HTTPConfig,
) (APIRestListenerHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "listener-api",
	}
	return APIRestListenerHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		}, core: core, validate: validator.New(),
	}, nil
}

// rejectionCode map a registry error onto an HTTP status code. Every
// rejection from the taxonomy is a client error; anything else is ours.
func rejectionCode(err error) int {
	if registry.IsRejection(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// sessionID extract the session id query parameter, "" when missing
func sessionID(r *http.Request) string {
	return r.URL.Query().Get("id")
}

// Write logging support
func (h APIRestListenerHandler) Write(p []byte) (n int, err error) {
	log.WithFields(h.LogTags).Infof("%s", p)
	return len(p), nil
}

// =======================================================================
// Session lifecycle

// -----------------------------------------------------------------------

// Connect godoc
// @Summary Connect a new listener
// @Description Register a new listener session for the given username
// @tags Listeners
// @Produce plain
// @Param username query string true "Listener username"
// @Success 200 {string} string "session id"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Router /connect [get]
func (h APIRestListenerHandler) Connect(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	username := r.URL.Query().Get("username")
	id, err := h.core.Register(r.Context(), username)
	if err != nil {
		msg := "Unable to connect listener"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode := rejectionCode(err)
		respBody := h.GetStdRESTErrorMsg(r.Context(), respCode, msg, err.Error())
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
		return
	}

	// The session id is the whole response, as plain text
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(id)); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// ConnectHandler Wrapper around Connect
func (h APIRestListenerHandler) ConnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Connect(w, r)
	}
}

// -----------------------------------------------------------------------

// Disconnect godoc
// @Summary Disconnect a listener
// @Description Remove the listener session, releasing any queue it owns or follows
// @tags Listeners
// @Produce json
// @Param id query string true "Session id"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Router /disconnect [post]
func (h APIRestListenerHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	if err := h.core.Unregister(r.Context(), sessionID(r)); err != nil {
		msg := "Unable to disconnect listener"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = rejectionCode(err)
		respBody = h.GetStdRESTErrorMsg(r.Context(), respCode, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// DisconnectHandler Wrapper around Disconnect
func (h APIRestListenerHandler) DisconnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Disconnect(w, r)
	}
}

// =======================================================================
// Listening activity

// -----------------------------------------------------------------------

// UpdateActivity godoc
// @Summary Report the playing track
// @Description Update the listener's current listening state
// @tags Listeners
// @Accept json
// @Produce json
// @Param id query string true "Session id"
// @Param state body protocol.ListeningState true "Current listening state"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Router /listeners/updateActivity [post]
func (h APIRestListenerHandler) UpdateActivity(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	var state protocol.ListeningState
	if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}
	if err := h.validate.Struct(&state); err != nil {
		msg := "Invalid listening state"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	if err := h.core.SetState(r.Context(), sessionID(r), state); err != nil {
		msg := "Unable to update listening state"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = rejectionCode(err)
		respBody = h.GetStdRESTErrorMsg(r.Context(), respCode, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// UpdateActivityHandler Wrapper around UpdateActivity
func (h APIRestListenerHandler) UpdateActivityHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.UpdateActivity(w, r)
	}
}

// -----------------------------------------------------------------------

// ClearActivity godoc
// @Summary Clear the playing track
// @Description Mark the listener as idle
// @tags Listeners
// @Produce json
// @Param id query string true "Session id"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Router /listeners/clearActivity [post]
func (h APIRestListenerHandler) ClearActivity(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	if err := h.core.ClearState(r.Context(), sessionID(r)); err != nil {
		msg := "Unable to clear listening state"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = rejectionCode(err)
		respBody = h.GetStdRESTErrorMsg(r.Context(), respCode, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// ClearActivityHandler Wrapper around ClearActivity
func (h APIRestListenerHandler) ClearActivityHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ClearActivity(w, r)
	}
}

// -----------------------------------------------------------------------

// States godoc
// @Summary Query all listener states
// @Description Fetch the shared state of every connected listener. Requires no session.
// @tags Listeners
// @Produce json
// @Success 200 {array} protocol.ListenerSharedState "listener states"
// @Router /listeners/states [get]
func (h APIRestListenerHandler) States(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	states := h.core.ListAll(r.Context())
	if err := h.WriteRESTResponse(w, http.StatusOK, states, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// StatesHandler Wrapper around States
func (h APIRestListenerHandler) StatesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.States(w, r)
	}
}

// =======================================================================
// Listening queues

// -----------------------------------------------------------------------

// JoinQueue godoc
// @Summary Join a listening queue
// @Description Follow the playback of the listener with the given username
// @tags Listeners
// @Produce json
// @Param id query string true "Session id"
// @Param username query string true "Queue owner username"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Router /listeners/joinQueue [post]
func (h APIRestListenerHandler) JoinQueue(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	ownerUsername := r.URL.Query().Get("username")
	if err := h.core.JoinQueue(r.Context(), sessionID(r), ownerUsername); err != nil {
		msg := "Unable to join listening queue"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = rejectionCode(err)
		respBody = h.GetStdRESTErrorMsg(r.Context(), respCode, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// JoinQueueHandler Wrapper around JoinQueue
func (h APIRestListenerHandler) JoinQueueHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.JoinQueue(w, r)
	}
}

// -----------------------------------------------------------------------

// LeaveQueue godoc
// @Summary Leave the current listening queue
// @Description Stop following the queue owner's playback
// @tags Listeners
// @Produce json
// @Param id query string true "Session id"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Router /listeners/leaveQueue [post]
func (h APIRestListenerHandler) LeaveQueue(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	if err := h.core.LeaveQueue(r.Context(), sessionID(r)); err != nil {
		msg := "Unable to leave listening queue"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = rejectionCode(err)
		respBody = h.GetStdRESTErrorMsg(r.Context(), respCode, msg, err.Error())
		return
	}

	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// LeaveQueueHandler Wrapper around LeaveQueue
func (h APIRestListenerHandler) LeaveQueueHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.LeaveQueue(w, r)
	}
}

// =======================================================================
// Health checks

// Alive godoc
// @Summary For liveness check
// @Description Will return success to indicate the REST API module is live
// @tags Management
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Router /alive [get]
func (h APIRestListenerHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestListenerHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready godoc
// @Summary For readiness check
// @Description Will return success once the listener registry is responding
// @tags Management
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h APIRestListenerHandler) Ready(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	// The registry answers from memory, so reachable means ready
	_ = h.core.ListenerCount(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// ReadyHandler Wrapper around Ready
func (h APIRestListenerHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
