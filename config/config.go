package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName names the data directory under the OS config root.
	AppDirectoryName = "lanchat"
	// DataDirEnv overrides the resolved data directory when set.
	DataDirEnv = "LANCHAT_DATA_DIR"
	// DefaultListeningPort is the TCP port used in fixed mode when none is configured.
	DefaultListeningPort = 9999
	// DefaultUDPPort is the discovery port shared by every peer.
	DefaultUDPPort = 8888
	// DefaultMulticastGroup is the IPv4 group joined on every interface.
	DefaultMulticastGroup = "230.0.0.1"
	// DefaultMulticastTTL bounds how far discovery traffic may travel.
	DefaultMulticastTTL = 32
	// DefaultAnnounceIntervalSeconds controls periodic presence re-announcement.
	DefaultAnnounceIntervalSeconds = 30
	// PortModeAutomatic lets the OS choose the TCP port at every launch.
	PortModeAutomatic = "automatic"
	// PortModeFixed always binds ListeningPort.
	PortModeFixed = "fixed"

	configFileName   = "config.json"
	downloadsDirName = "downloads"
	fallbackNickname = "lanchat"
)

// ErrInvalidNickname is returned when a nickname would break wire framing.
var ErrInvalidNickname = errors.New("config: nickname must be non-empty and must not contain ';' or ':'")

// DeviceConfig is the settings file of one chat peer.
type DeviceConfig struct {
	InstanceID              string `json:"instance_id"`
	Nickname                string `json:"nickname"`
	PortMode                string `json:"port_mode"`
	ListeningPort           int    `json:"listening_port"`
	UDPPort                 int    `json:"udp_port"`
	MulticastGroup          string `json:"multicast_group"`
	MulticastTTL            int    `json:"multicast_ttl"`
	DownloadDir             string `json:"download_dir"`
	MDNSEnabled             *bool  `json:"mdns_enabled,omitempty"`
	AnnounceIntervalSeconds *int   `json:"announce_interval_seconds,omitempty"`
}

// MDNS reports whether the mDNS beacon should run.
func (c *DeviceConfig) MDNS() bool {
	return c.MDNSEnabled == nil || *c.MDNSEnabled
}

// AnnounceInterval returns the re-announcement period in seconds; 0 disables it.
func (c *DeviceConfig) AnnounceInterval() int {
	if c.AnnounceIntervalSeconds == nil {
		return DefaultAnnounceIntervalSeconds
	}
	return *c.AnnounceIntervalSeconds
}

// ValidateNickname rejects nicknames that cannot travel over either wire format.
func ValidateNickname(nickname string) error {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" || strings.ContainsAny(nickname, ";:") {
		return ErrInvalidNickname
	}
	return nil
}

// ResolveDataDir picks the per-user directory that holds config.json and
// downloads. LANCHAT_DATA_DIR wins when set.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}
	base, err := userConfigBase()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, AppDirectoryName), nil
}

func userConfigBase() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: locate home directory: %w", err)
	}

	var envVar string
	var fallback string
	switch runtime.GOOS {
	case "windows":
		envVar, fallback = "APPDATA", filepath.Join(home, "AppData", "Roaming")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support"), nil
	default:
		envVar, fallback = "XDG_CONFIG_HOME", filepath.Join(home, ".config")
	}
	if base := os.Getenv(envVar); base != "" {
		return base, nil
	}
	return fallback, nil
}

// ConfigPath is where config.json lives inside dataDir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates dataDir and dataDir/downloads.
func EnsureDataDirectories(dataDir string) error {
	for _, dir := range []string{dataDir, filepath.Join(dataDir, downloadsDirName)} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("config: mkdir %s: %w", dir, err)
		}
	}
	return nil
}

// Load decodes the config file at path.
func Load(path string) (*DeviceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	cfg := &DeviceConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as indented JSON readable only by the owner.
func Save(path string, cfg *DeviceConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("config: store %s: %w", path, err)
	}
	return nil
}

// LoadOrCreate returns the device config and its path. A missing file is
// created with defaults; an existing one is normalized and re-saved only
// when normalization changed something.
func LoadOrCreate() (*DeviceConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	path := ConfigPath(dataDir)
	cfg, err := Load(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = &DeviceConfig{}
	case err != nil:
		return nil, "", err
	}

	changed := normalizeDefaults(cfg, dataDir)
	if err := ValidateNickname(cfg.Nickname); err != nil {
		return nil, "", err
	}
	if changed {
		if err := Save(path, cfg); err != nil {
			return nil, "", err
		}
	}
	return cfg, path, nil
}

func defaultNickname() string {
	host, err := os.Hostname()
	if err != nil || ValidateNickname(host) != nil {
		return fallbackNickname
	}
	return host
}

func normalizeDefaults(cfg *DeviceConfig, dataDir string) bool {
	updated := false

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
		updated = true
	}
	if strings.TrimSpace(cfg.Nickname) == "" {
		cfg.Nickname = defaultNickname()
		updated = true
	}

	mode := normalizePortMode(cfg.PortMode)
	switch {
	case mode != "":
	case cfg.ListeningPort > 0:
		mode = PortModeFixed
	default:
		mode = PortModeAutomatic
	}
	if cfg.PortMode != mode {
		cfg.PortMode = mode
		updated = true
	}
	if cfg.PortMode == PortModeFixed && (cfg.ListeningPort <= 0 || cfg.ListeningPort > 65535) {
		cfg.ListeningPort = DefaultListeningPort
		updated = true
	}
	if cfg.PortMode == PortModeAutomatic && cfg.ListeningPort != 0 {
		cfg.ListeningPort = 0
		updated = true
	}

	if cfg.UDPPort <= 0 || cfg.UDPPort > 65535 {
		cfg.UDPPort = DefaultUDPPort
		updated = true
	}
	if cfg.MulticastGroup == "" {
		cfg.MulticastGroup = DefaultMulticastGroup
		updated = true
	}
	if cfg.MulticastTTL <= 0 || cfg.MulticastTTL > 255 {
		cfg.MulticastTTL = DefaultMulticastTTL
		updated = true
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = filepath.Join(dataDir, downloadsDirName)
		updated = true
	}
	if cfg.MDNSEnabled == nil {
		enabled := true
		cfg.MDNSEnabled = &enabled
		updated = true
	}
	if cfg.AnnounceIntervalSeconds == nil || *cfg.AnnounceIntervalSeconds < 0 {
		interval := DefaultAnnounceIntervalSeconds
		cfg.AnnounceIntervalSeconds = &interval
		updated = true
	}

	return updated
}

func normalizePortMode(mode string) string {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == PortModeAutomatic || mode == PortModeFixed {
		return mode
	}
	return ""
}
