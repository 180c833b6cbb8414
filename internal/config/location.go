package config

import (
	"fmt"

	"github.com/neo154/afkrun/internal/fileutil"
	"github.com/neo154/afkrun/internal/location"
)

// BuildLocation constructs a Location from a single LocationConfig record,
// dispatching on config_type the way storage.py's StorageLocation factory
// does on its own config_type field.
func BuildLocation(cfg *LocationConfig) (location.Location, error) {
	if cfg == nil {
		return nil, nil
	}
	switch cfg.ConfigType {
	case "local_filesystem":
		if cfg.Config.PathRef == "" {
			return nil, fmt.Errorf("config: local_filesystem entry missing path_ref")
		}
		resolved, err := fileutil.ResolvePath(cfg.Config.PathRef)
		if err != nil {
			return nil, fmt.Errorf("config: resolve path_ref %q: %w", cfg.Config.PathRef, err)
		}
		loc, err := location.NewLocalFile(resolved)
		if err != nil {
			return nil, err
		}
		return loc, nil
	case "remote_filesystem":
		if cfg.Config.PathRef == "" {
			return nil, fmt.Errorf("config: remote_filesystem entry missing path_ref")
		}
		if cfg.Config.SSHInter == nil {
			return nil, fmt.Errorf("config: remote_filesystem entry missing ssh_inter")
		}
		sshCfg := location.SSHConfig{
			Host:           cfg.Config.SSHInter.Host,
			Port:           cfg.Config.SSHInter.Port,
			User:           cfg.Config.SSHInter.UserID,
			PrivateKeyPath: cfg.Config.SSHInter.SSHKey,
		}
		return location.NewRemoteFile(sshCfg, cfg.Config.PathRef), nil
	default:
		return nil, fmt.Errorf("config: unknown storage config_type %q", cfg.ConfigType)
	}
}
