package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
host_id: ""
log_level: debug
log_format: json
workspace_lock: true
storage:
  base_loc: { config_type: local_filesystem, config: { path_ref: /var/lib/afkrun } }
tasks:
  - task_id: nightly-report
    default_args: { verbose: false }
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "afkrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_DecodesStorageAndTasks(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	require.NotNil(t, cfg.Storage.BaseLoc)
	assert.Equal(t, "local_filesystem", cfg.Storage.BaseLoc.ConfigType)
	assert.Equal(t, "/var/lib/afkrun", cfg.Storage.BaseLoc.Config.PathRef)
	require.Len(t, cfg.Tasks, 1)
	assert.Equal(t, "nightly-report", cfg.Tasks[0].TaskID)
	assert.NotEmpty(t, cfg.HostID, "blank host_id should default to os.Hostname()")
}

func TestLoad_DefaultsFillMissingFields(t *testing.T) {
	path := writeConfig(t, `
storage:
  base_loc: { config_type: local_filesystem, config: { path_ref: /tmp/afkrun } }
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.True(t, cfg.WorkspaceLock)
}

func TestLoad_MissingBaseLocIsError(t *testing.T) {
	path := writeConfig(t, `log_level: info`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_UnknownLogFormatIsError(t *testing.T) {
	path := writeConfig(t, `
log_format: xml
storage:
  base_loc: { config_type: local_filesystem, config: { path_ref: /tmp/afkrun } }
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_DuplicateTaskIDIsError(t *testing.T) {
	path := writeConfig(t, `
storage:
  base_loc: { config_type: local_filesystem, config: { path_ref: /tmp/afkrun } }
tasks:
  - task_id: a
  - task_id: a
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestBuildLocation_NilConfigReturnsNil(t *testing.T) {
	loc, err := BuildLocation(nil)
	require.NoError(t, err)
	assert.Nil(t, loc)
}

func TestBuildLocation_LocalFilesystem(t *testing.T) {
	loc, err := BuildLocation(&LocationConfig{ConfigType: "local_filesystem", Config: LocationDetails{PathRef: "/tmp/afkrun-data"}})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/afkrun-data", loc.AbsolutePath())
}

func TestBuildLocation_RemoteFilesystemRequiresSSHInter(t *testing.T) {
	_, err := BuildLocation(&LocationConfig{ConfigType: "remote_filesystem", Config: LocationDetails{PathRef: "/data"}})
	assert.Error(t, err)
}

func TestBuildLocation_UnknownConfigTypeIsError(t *testing.T) {
	_, err := BuildLocation(&LocationConfig{ConfigType: "s3", Config: LocationDetails{PathRef: "/data"}})
	assert.Error(t, err)
}
