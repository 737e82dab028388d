package config

import (
	"fmt"
	"log"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" yaml:"listen_addr"`
	DatabasePath string `envconfig:"DATABASE_PATH" yaml:"database_path"`
	LogPath      string `envconfig:"LOG_PATH" yaml:"log_path"`

	// SSH session settings
	DefaultSSHPort int    `envconfig:"DEFAULT_SSH_PORT" yaml:"default_ssh_port"`
	DialTimeout    string `envconfig:"DIAL_TIMEOUT" yaml:"dial_timeout"`
	ReadTimeout    string `envconfig:"READ_TIMEOUT" yaml:"read_timeout"`
	KnownHostsFile string `envconfig:"KNOWN_HOSTS_FILE" yaml:"known_hosts_file"`

	// Cleanup settings
	CleanupGracePeriod string `envconfig:"CLEANUP_GRACE_PERIOD" yaml:"cleanup_grace_period"`

	// Session recording and history
	RecordingDir     string `envconfig:"RECORDING_DIR" yaml:"recording_dir"`
	HistoryRetention string `envconfig:"HISTORY_RETENTION" yaml:"history_retention"`
	PruneSchedule    string `envconfig:"PRUNE_SCHEDULE" yaml:"prune_schedule"`
}

// Defaults returns the baseline settings before file and env overlays.
func Defaults() Settings {
	return Settings{
		ListenAddr:         ":8000",
		DefaultSSHPort:     22,
		DialTimeout:        "10s",
		ReadTimeout:        "1s",
		CleanupGracePeriod: "5s",
		HistoryRetention:   "720h",
		PruneSchedule:      "@hourly",
	}
}

var Cfg Settings

// Load populates Cfg. Precedence, lowest to highest: built-in defaults,
// the optional YAML file named by WEBTERM_CONFIG_FILE, then WEBTERM_*
// environment variables. A missing config file is not an error so
// containers can run on env alone.
func Load() {
	if err := LoadInto(&Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// LoadInto is Load without the global and the fatal exit, for tests.
func LoadInto(s *Settings) error {
	*s = Defaults()
	if path := os.Getenv("WEBTERM_CONFIG_FILE"); path != "" {
		if err := loadFile(path, s); err != nil {
			return err
		}
	}
	return envconfig.Process("WEBTERM", s)
}

func loadFile(path string, s *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
