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

package common

import "github.com/spf13/viper"

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
}

// ===============================================================================
// Listener Server Related Config

// ServerEndpointConfig defines listener API endpoint config
type ServerEndpointConfig struct {
	// PathPrefix is the end-point path prefix for the listener APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// InactivityConfig defines the server side liveness sweep parameters
type InactivityConfig struct {
	// ThresholdSec is how long a session can go without sending a request
	// before the sweep reclaims it, in seconds
	ThresholdSec int `mapstructure:"threshold_sec" json:"threshold_sec" validate:"required,gte=1"`
	// SweepIntervalSec is how often the sweep runs, in seconds
	SweepIntervalSec int `mapstructure:"sweep_interval_sec" json:"sweep_interval_sec" validate:"required,gte=1"`
}

// ServerConfig defines configuration for the listener registry server
type ServerConfig struct {
	// HTTPSetting is the HTTP API / server parameters for the listener API server
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Endpoints is the API endpoint config parameters for the listener API server
	Endpoints ServerEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required,dive"`
	// Inactivity is the liveness sweep config parameters
	Inactivity InactivityConfig `mapstructure:"inactivity" json:"inactivity" validate:"required,dive"`
}

// ===============================================================================
// Sync Client Related Config

// SyncConfig defines the client sync engine parameters
type SyncConfig struct {
	// PollIntervalSec is the shared state polling cadence in seconds. Polls
	// requested less than one interval after the previous successful poll
	// are debounced unless forced.
	PollIntervalSec int `mapstructure:"poll_interval_sec" json:"poll_interval_sec" validate:"required,gte=1"`
	// DriftThresholdMS is the maximum tolerated playback drift in
	// milliseconds before the engine seeks the local player
	DriftThresholdMS int64 `mapstructure:"drift_threshold_ms" json:"drift_threshold_ms" validate:"required,gte=1"`
	// FailureWindowSec is how long the engine tolerates transport failures
	// without one successful request before auto-disconnecting, in seconds
	FailureWindowSec int `mapstructure:"failure_window_sec" json:"failure_window_sec" validate:"required,gte=1"`
	// RequestTimeoutSec is the per-request timeout in seconds
	RequestTimeoutSec int `mapstructure:"request_timeout_sec" json:"request_timeout_sec" validate:"required,gte=1"`
}

// ClientConfig defines configuration for the sync client
type ClientConfig struct {
	// ServerURI is the listener server connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// Username is the identity to connect with. Defaults to the local user
	// name when left empty.
	Username string `mapstructure:"username" json:"username"`
	// Sync defines the sync engine parameters
	Sync SyncConfig `mapstructure:"sync" json:"sync" validate:"required,dive"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config used by either the server or the client
type SystemConfig struct {
	// Server are the listener server configs
	Server *ServerConfig `mapstructure:"server,omitempty" json:"server,omitempty" validate:"omitempty,dive"`
	// Client are the sync client configs
	Client *ClientConfig `mapstructure:"client,omitempty" json:"client,omitempty" validate:"omitempty,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default listener server settings
	viper.SetDefault("server.endpoint_config.path_prefix", "/")
	viper.SetDefault("server.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("server.api_server.server_config.listen_port", 9696)
	viper.SetDefault("server.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("server.api_server.server_config.write_timeout_sec", 60)
	viper.SetDefault("server.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"server.api_server.logging_config.request_id_header", "Listentogether-Request-ID",
	)
	viper.SetDefault(
		"server.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
	viper.SetDefault("server.inactivity.threshold_sec", 3600)
	viper.SetDefault("server.inactivity.sweep_interval_sec", 3600)

	// Default sync client settings
	viper.SetDefault("client.server_uri", "http://127.0.0.1:9696")
	viper.SetDefault("client.sync.poll_interval_sec", 5)
	viper.SetDefault("client.sync.drift_threshold_ms", 5000)
	viper.SetDefault("client.sync.failure_window_sec", 10)
	viper.SetDefault("client.sync.request_timeout_sec", 5)
}
