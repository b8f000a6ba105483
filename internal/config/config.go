// Package config loads gateway and node settings. Values come from the
// built-in defaults, then an optional TOML file, then the environment.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/patina/dxspaces/internal/remote"
)

const defaultConfig = `
[server]
listen-addr = ":8080"
title = "DXSpaces API"
unsafe-endpoints = false

[fabric]
server-ip = "dspaces"
server-port = 4000
store = "remote"
data-dir = ""

[registration]
types = ["netcdf", "zarr", "url"]

[sandbox]
enabled = false
image = "python:3.12-slim"
packages = ["dill", "numpy"]

[log]
# debug, info, warn, error
level = "info"
`

// Store kinds
const (
	StoreRemote = "remote"
	StoreMemory = "memory"
	StoreBadger = "badger"
)

// Settings is the full configuration
type Settings struct {
	Server       ServerConfig       `toml:"server"`
	Fabric       FabricConfig       `toml:"fabric"`
	Registration RegistrationConfig `toml:"registration"`
	Sandbox      SandboxConfig      `toml:"sandbox"`
	Log          LogConfig          `toml:"log"`
}

type ServerConfig struct {
	ListenAddr      string `toml:"listen-addr"`
	Title           string `toml:"title"`
	UnsafeEndpoints bool   `toml:"unsafe-endpoints"`
}

// FabricConfig selects the store the gateway talks to. With the remote
// store the gateway dials a node at server-ip:server-port; a node listens
// on that port.
type FabricConfig struct {
	ServerIP   string `toml:"server-ip"`
	ServerPort int    `toml:"server-port"`
	Store      string `toml:"store"`
	DataDir    string `toml:"data-dir"`
}

type RegistrationConfig struct {
	Types []string `toml:"types"`
}

type SandboxConfig struct {
	Enabled  bool     `toml:"enabled"`
	Image    string   `toml:"image"`
	Packages []string `toml:"packages"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Load reads the defaults, the file at path if path is not empty, and the
// environment, in that order
func Load(path string) (*Settings, error) {
	s := new(Settings)
	if _, err := toml.Decode(defaultConfig, s); err != nil {
		return nil, fmt.Errorf("failed to decode default config: %w", err)
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, s); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	if err := s.applyEnv(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (s *Settings) applyEnv() error {
	s.Server.ListenAddr = getEnvOrDefault("LISTEN_ADDR", s.Server.ListenAddr)
	s.Server.Title = getEnvOrDefault("SWAGGER_TITLE", s.Server.Title)
	s.Fabric.ServerIP = getEnvOrDefault("DSPACES_SERVER_IP", s.Fabric.ServerIP)
	s.Fabric.Store = getEnvOrDefault("DSPACES_STORE", s.Fabric.Store)
	s.Fabric.DataDir = getEnvOrDefault("DSPACES_DATA_DIR", s.Fabric.DataDir)
	s.Sandbox.Image = getEnvOrDefault("DSPACES_SANDBOX_IMAGE", s.Sandbox.Image)
	s.Log.Level = getEnvOrDefault("LOG_LEVEL", s.Log.Level)

	if v := os.Getenv("DSPACES_SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DSPACES_SERVER_PORT %q: %w", v, err)
		}
		s.Fabric.ServerPort = port
	}
	if v := os.Getenv("DSPACES_UNSAFE_ENDPOINTS"); v != "" {
		unsafe, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DSPACES_UNSAFE_ENDPOINTS %q: %w", v, err)
		}
		s.Server.UnsafeEndpoints = unsafe
	}
	if v := os.Getenv("DSPACES_SANDBOX"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DSPACES_SANDBOX %q: %w", v, err)
		}
		s.Sandbox.Enabled = enabled
	}
	if v := os.Getenv("REGISTRATION_TYPES"); v != "" {
		var types []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
		s.Registration.Types = types
	}
	return nil
}

// Validate checks the settings for values the binaries cannot run with
func (s *Settings) Validate() error {
	if s.Server.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if s.Fabric.ServerPort <= 0 || s.Fabric.ServerPort > 65535 {
		return fmt.Errorf("invalid fabric server port %d", s.Fabric.ServerPort)
	}
	switch s.Fabric.Store {
	case StoreRemote:
		if s.Fabric.ServerIP == "" {
			return fmt.Errorf("fabric server ip is required for the remote store")
		}
	case StoreMemory, StoreBadger:
	default:
		return fmt.Errorf("unknown store %q", s.Fabric.Store)
	}
	if len(s.Registration.Types) == 0 {
		return fmt.Errorf("at least one registration type is required")
	}
	if _, err := s.LogLevel(); err != nil {
		return err
	}
	return nil
}

// Connector is the URL the gateway dials to reach the fabric
func (s *Settings) Connector() string {
	return "ws://" + net.JoinHostPort(s.Fabric.ServerIP, strconv.Itoa(s.Fabric.ServerPort)) + remote.Path
}

// NodeAddr is the address a node listens on
func (s *Settings) NodeAddr() string {
	return ":" + strconv.Itoa(s.Fabric.ServerPort)
}

// LogLevel parses the configured log level
func (s *Settings) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.Log.Level)); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", s.Log.Level, err)
	}
	return level, nil
}
