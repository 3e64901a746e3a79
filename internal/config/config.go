// Package config loads the three service configs (Coordinator, Agent,
// Launcher) from an optional YAML file, environment overrides, and
// defaults, following the teacher's internal/config/config.go layering:
// LoadConfig(path) decodes YAML, applyEnvOverrides() patches from the
// environment, applyDefaults() fills zero values, and a secure-value
// check rejects placeholder secrets unless ALLOW_INSECURE_DEFAULTS=1.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// CoordinatorConfig holds everything the coordinator process needs, per
// spec.md §6 "Configuration (env, recognized)".
type CoordinatorConfig struct {
	DatabaseURL              string `yaml:"database_url"`
	SecretKey                string `yaml:"secret_key"`
	AgentSharedSecret        string `yaml:"agent_shared_secret"`
	ListenAddr               string `yaml:"listen_addr"`
	AccessTokenTTLSeconds    int    `yaml:"access_token_ttl_seconds"`
	EventsWSTokenTTLSeconds  int    `yaml:"events_ws_token_ttl_seconds"`
	ReadTicketTTLSeconds     int    `yaml:"read_ticket_ttl_seconds"`
	TransferTicketTTLSeconds int    `yaml:"transfer_ticket_ttl_seconds"`
	PasscodeWindowSeconds    int    `yaml:"passcode_window_seconds"`
	PairingCodeTTLSeconds    int    `yaml:"pairing_code_ttl_seconds"`
	BrowsePIN                string `yaml:"browse_pin"`
}

// AgentConfig holds everything the agent process needs.
type AgentConfig struct {
	AgentDeviceID          string `yaml:"agent_device_id"`
	AgentName              string `yaml:"agent_name"`
	OwnerPrincipalID       string `yaml:"owner_principal_id"`
	PublicBaseURL          string `yaml:"public_base_url"`
	ListenAddr             string `yaml:"listen_addr"`
	CoordinatorURL         string `yaml:"coordinator_url"`
	CoordinatorAgentSecret string `yaml:"coordinator_agent_secret"`
	CoordinatorSecretKey   string `yaml:"coordinator_secret_key"`
	StateDatabaseURL       string `yaml:"state_database_url"`
	DefaultShareID         string `yaml:"default_share_id"`
	DefaultShareName       string `yaml:"default_share_name"`
	DefaultShareRoot       string `yaml:"default_share_root"`
	InboxDir               string `yaml:"inbox_dir"`
	HeartbeatIntervalSec   int    `yaml:"heartbeat_interval_seconds"`
	UploadChunkMaxBytes    int64  `yaml:"upload_chunk_max_bytes"`
}

// LauncherConfig holds what the launcher needs to bootstrap and supervise
// the three services.
type LauncherConfig struct {
	SettingsPath      string `yaml:"settings_path"`
	CoordinatorListen string `yaml:"coordinator_listen"`
	AgentListen       string `yaml:"agent_listen"`
	WebListen         string `yaml:"web_listen"`
	OpenBrowser       bool   `yaml:"open_browser"`
	DiscoverPeers     bool   `yaml:"discover_peers"`
}

func allowInsecureDefaults() bool {
	return strings.TrimSpace(os.Getenv("ALLOW_INSECURE_DEFAULTS")) == "1"
}

var blockedSecretKeys = map[string]bool{
	"replace-with-secure-key":             true,
	"replace-with-strong-coordinator-key": true,
	"replace-this-secret-key":             true,
	"changeme":                            true,
}

var blockedAgentSecrets = map[string]bool{
	"replace-agent-secret":             true,
	"replace-with-strong-agent-secret": true,
	"changeme":                         true,
}

// secureValue enforces the non-empty/non-placeholder rule described in
// SPEC_FULL.md's Ambient Stack section, grounded on
// _examples/original_source/coordinator/config.py's _secure_value.
func secureValue(name, value string, blocked map[string]bool) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%s must not be empty", name)
	}
	if !allowInsecureDefaults() && blocked[value] {
		return "", fmt.Errorf("%s uses an insecure placeholder value; set a secure value", name)
	}
	return value, nil
}

// LoadCoordinatorConfig decodes an optional YAML file at path (missing file
// is not an error — defaults/env still apply), applies env overrides, then
// defaults, then validates secrets.
func LoadCoordinatorConfig(path string) (*CoordinatorConfig, error) {
	cfg := &CoordinatorConfig{}
	if err := decodeYAMLIfPresent(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	secretKey, err := secureValue("COORDINATOR_SECRET_KEY", cfg.SecretKey, blockedSecretKeys)
	if err != nil {
		return nil, err
	}
	agentSecret, err := secureValue("COORDINATOR_AGENT_SHARED_SECRET", cfg.AgentSharedSecret, blockedAgentSecrets)
	if err != nil {
		return nil, err
	}
	cfg.SecretKey = secretKey
	cfg.AgentSharedSecret = agentSecret
	return cfg, nil
}

func (c *CoordinatorConfig) applyEnvOverrides() {
	c.DatabaseURL = getEnv("COORDINATOR_DATABASE_URL", c.DatabaseURL)
	c.SecretKey = getEnv("COORDINATOR_SECRET_KEY", c.SecretKey)
	c.AgentSharedSecret = getEnv("COORDINATOR_AGENT_SHARED_SECRET", c.AgentSharedSecret)
	c.ListenAddr = getEnv("COORDINATOR_LISTEN_ADDR", c.ListenAddr)
	c.AccessTokenTTLSeconds = getEnvInt("COORDINATOR_ACCESS_TOKEN_TTL", c.AccessTokenTTLSeconds)
	c.EventsWSTokenTTLSeconds = getEnvInt("COORDINATOR_EVENTS_WS_TOKEN_TTL", c.EventsWSTokenTTLSeconds)
	c.ReadTicketTTLSeconds = getEnvInt("COORDINATOR_READ_TICKET_TTL", c.ReadTicketTTLSeconds)
	c.TransferTicketTTLSeconds = getEnvInt("COORDINATOR_TRANSFER_TICKET_TTL", c.TransferTicketTTLSeconds)
	c.PasscodeWindowSeconds = getEnvInt("COORDINATOR_PASSCODE_WINDOW_SECONDS", c.PasscodeWindowSeconds)
	c.PairingCodeTTLSeconds = getEnvInt("COORDINATOR_PAIRING_CODE_TTL", c.PairingCodeTTLSeconds)
	c.BrowsePIN = getEnv("COORDINATOR_BROWSE_PIN", c.BrowsePIN)
}

func (c *CoordinatorConfig) applyDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = "./coordinator.db"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":7000"
	}
	if c.AccessTokenTTLSeconds == 0 {
		c.AccessTokenTTLSeconds = 3600
	}
	if c.EventsWSTokenTTLSeconds == 0 {
		c.EventsWSTokenTTLSeconds = 90
	}
	if c.ReadTicketTTLSeconds == 0 {
		c.ReadTicketTTLSeconds = 1800
	}
	if c.TransferTicketTTLSeconds == 0 {
		c.TransferTicketTTLSeconds = 1800
	}
	if c.PasscodeWindowSeconds == 0 {
		c.PasscodeWindowSeconds = 300
	}
	if c.PairingCodeTTLSeconds == 0 {
		c.PairingCodeTTLSeconds = 600
	}
}

// LoadAgentConfig mirrors LoadCoordinatorConfig for the agent process.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	cfg := &AgentConfig{}
	if err := decodeYAMLIfPresent(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	agentSecret, err := secureValue("COORDINATOR_AGENT_SHARED_SECRET", cfg.CoordinatorAgentSecret, blockedAgentSecrets)
	if err != nil {
		return nil, err
	}
	secretKey, err := secureValue("COORDINATOR_SECRET_KEY", cfg.CoordinatorSecretKey, blockedSecretKeys)
	if err != nil {
		return nil, err
	}
	cfg.CoordinatorAgentSecret = agentSecret
	cfg.CoordinatorSecretKey = secretKey
	return cfg, nil
}

func (c *AgentConfig) applyEnvOverrides() {
	c.AgentDeviceID = getEnv("AGENT_DEVICE_ID", c.AgentDeviceID)
	c.AgentName = getEnv("AGENT_NAME", c.AgentName)
	c.OwnerPrincipalID = getEnv("AGENT_OWNER_PRINCIPAL_ID", c.OwnerPrincipalID)
	c.PublicBaseURL = getEnv("AGENT_PUBLIC_BASE_URL", c.PublicBaseURL)
	c.ListenAddr = getEnv("AGENT_LISTEN_ADDR", c.ListenAddr)
	c.CoordinatorURL = getEnv("AGENT_COORDINATOR_URL", c.CoordinatorURL)
	c.CoordinatorAgentSecret = getEnv("COORDINATOR_AGENT_SHARED_SECRET", c.CoordinatorAgentSecret)
	c.CoordinatorSecretKey = getEnv("COORDINATOR_SECRET_KEY", c.CoordinatorSecretKey)
	c.StateDatabaseURL = getEnv("AGENT_STATE_DB_URL", c.StateDatabaseURL)
	c.DefaultShareID = getEnv("AGENT_DEFAULT_SHARE_ID", c.DefaultShareID)
	c.DefaultShareName = getEnv("AGENT_DEFAULT_SHARE_NAME", c.DefaultShareName)
	c.DefaultShareRoot = getEnv("AGENT_DEFAULT_SHARE_ROOT", c.DefaultShareRoot)
	c.InboxDir = getEnv("AGENT_INBOX_DIR", c.InboxDir)
	c.HeartbeatIntervalSec = getEnvInt("AGENT_HEARTBEAT_SECONDS", c.HeartbeatIntervalSec)
	c.UploadChunkMaxBytes = getEnvInt64("AGENT_UPLOAD_CHUNK_MAX_BYTES", c.UploadChunkMaxBytes)
}

func (c *AgentConfig) applyDefaults() {
	if c.AgentName == "" {
		c.AgentName = "Local Agent"
	}
	if c.PublicBaseURL == "" {
		c.PublicBaseURL = "http://127.0.0.1:7001"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":7001"
	}
	if c.CoordinatorURL == "" {
		c.CoordinatorURL = "http://127.0.0.1:7000"
	}
	if c.StateDatabaseURL == "" {
		c.StateDatabaseURL = "./agent_state.db"
	}
	if c.DefaultShareName == "" {
		c.DefaultShareName = "Home"
	}
	if c.HeartbeatIntervalSec == 0 {
		c.HeartbeatIntervalSec = 20
	}
	if c.UploadChunkMaxBytes == 0 {
		c.UploadChunkMaxBytes = 8 * 1024 * 1024
	}
	if c.DefaultShareRoot == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.DefaultShareRoot = home
		}
	}
	if c.InboxDir == "" {
		c.InboxDir = c.DefaultShareRoot + "/.inbox"
	}
}

// LoadLauncherConfig mirrors the other loaders for the launcher process.
func LoadLauncherConfig(path string) (*LauncherConfig, error) {
	cfg := &LauncherConfig{}
	if err := decodeYAMLIfPresent(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *LauncherConfig) applyEnvOverrides() {
	c.SettingsPath = getEnv("LAUNCHER_SETTINGS_PATH", c.SettingsPath)
	c.CoordinatorListen = getEnv("COORDINATOR_LISTEN_ADDR", c.CoordinatorListen)
	c.AgentListen = getEnv("AGENT_LISTEN_ADDR", c.AgentListen)
	c.WebListen = getEnv("WEB_LISTEN_ADDR", c.WebListen)
	c.OpenBrowser = getEnvBool("LAUNCHER_OPEN_BROWSER", c.OpenBrowser)
	c.DiscoverPeers = getEnvBool("LAUNCHER_DISCOVER_PEERS", c.DiscoverPeers)
}

func (c *LauncherConfig) applyDefaults() {
	if c.SettingsPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.SettingsPath = home + "/.lanshare/settings.env"
		} else {
			c.SettingsPath = ".lanshare.env"
		}
	}
	if c.CoordinatorListen == "" {
		c.CoordinatorListen = ":7000"
	}
	if c.AgentListen == "" {
		c.AgentListen = ":7001"
	}
	if c.WebListen == "" {
		c.WebListen = ":7002"
	}
}

func decodeYAMLIfPresent(path string, out any) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return yaml.NewDecoder(f).Decode(out)
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}
