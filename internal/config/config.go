// Package config decodes the daemon's ambient YAML configuration into a
// DaemonConfig: host/log settings, the Storage configuration record (§6),
// and the list of task bindings that cmd/afkrun logs at startup. Decoded
// with spf13/viper's file loading plus goccy/go-yaml struct tags, matching
// the teacher's own configuration loading stack.
package config

import (
	"bytes"
	"fmt"
	"os"

	goyaml "github.com/goccy/go-yaml"
	"github.com/spf13/viper"
)

// LocationConfig is one slot of the Storage configuration record: either a
// local_filesystem or remote_filesystem backend.
type LocationConfig struct {
	ConfigType string          `yaml:"config_type"`
	Config     LocationDetails `yaml:"config"`
}

// LocationDetails holds the union of local/remote fields; only the ones
// relevant to ConfigType are populated.
type LocationDetails struct {
	PathRef  string    `yaml:"path_ref"`
	SSHInter *SSHInter `yaml:"ssh_inter"`
}

// SSHInter is the remote_filesystem backend's connection record.
type SSHInter struct {
	Host   string `yaml:"host"`
	UserID string `yaml:"userid"`
	Port   int    `yaml:"port"`
	SSHKey string `yaml:"ssh_key"`
}

// StorageConfig is the record described in §6. Every slot is decoded, but
// cmd/afkrun uses only BaseLoc: storage.New derives the other slots from
// the base, so the remaining slot entries have no effect.
type StorageConfig struct {
	BaseLoc    *LocationConfig `yaml:"base_loc"`
	DataLoc    *LocationConfig `yaml:"data_loc"`
	TmpLoc     *LocationConfig `yaml:"tmp_loc"`
	ReportLoc  *LocationConfig `yaml:"report_loc"`
	ArchiveLoc *LocationConfig `yaml:"archive_loc"`
	MutexLoc   *LocationConfig `yaml:"mutex_loc"`
	LogLoc     *LocationConfig `yaml:"log_loc"`
}

// TaskBinding is one entry of the `tasks` list: a task-id the daemon
// expects a RegisteredTask to exist for, plus its default arguments.
type TaskBinding struct {
	TaskID      string         `yaml:"task_id"`
	DefaultArgs map[string]any `yaml:"default_args"`
}

// DaemonConfig is the top-level record cmd/afkrun loads at startup.
type DaemonConfig struct {
	HostID            string        `yaml:"host_id"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`
	WorkspaceLock     bool          `yaml:"workspace_lock"`
	FileCheckInterval string        `yaml:"file_check_interval"`
	Storage           StorageConfig `yaml:"storage"`
	Tasks             []TaskBinding `yaml:"tasks"`
}

func defaults() DaemonConfig {
	return DaemonConfig{
		LogLevel:          "info",
		LogFormat:         "text",
		WorkspaceLock:     true,
		FileCheckInterval: "1m",
	}
}

// Load reads and decodes a DaemonConfig from path. viper handles file
// discovery and format sniffing (yaml/json/toml by extension); the decoded
// bytes are then unmarshaled with goccy/go-yaml so `yaml:"..."` struct tags
// apply uniformly regardless of the source format viper detected.
func Load(path string) (*DaemonConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	raw, err := goyaml.Marshal(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("config: re-encode loaded settings: %w", err)
	}

	cfg := defaults()
	dec := goyaml.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if cfg.HostID == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("config: resolve host id: %w", err)
		}
		cfg.HostID = host
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *DaemonConfig) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	if c.Storage.BaseLoc == nil {
		return fmt.Errorf("config: storage.base_loc is required")
	}
	seen := make(map[string]bool, len(c.Tasks))
	for _, t := range c.Tasks {
		if t.TaskID == "" {
			return fmt.Errorf("config: tasks entry missing task_id")
		}
		if seen[t.TaskID] {
			return fmt.Errorf("config: duplicate task_id %q in tasks list", t.TaskID)
		}
		seen[t.TaskID] = true
	}
	return nil
}
