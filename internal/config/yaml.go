package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/testplan-go/remotepool/internal/errors"
)

// fileConfig is the YAML-facing shape of Config. Only the fields that make
// sense as static, human-authored configuration are present here; callable
// fields (Transport, CopyWorkspaceCheck) are always supplied in code.
type fileConfig struct {
	Hosts                  map[string]int    `yaml:"hosts"`
	AbortSignals           []int             `yaml:"abort_signals"`
	PoolType               string            `yaml:"pool_type"`
	Host                   string            `yaml:"host"`
	Port                   int               `yaml:"port"`
	Workspace              string            `yaml:"workspace"`
	WorkspaceExclude       []string          `yaml:"workspace_exclude"`
	RemoteWorkspace        string            `yaml:"remote_workspace"`
	Env                    map[string]string `yaml:"env"`
	SetupScript            []string          `yaml:"setup_script"`
	PushExclude            []string          `yaml:"push_exclude"`
	PushRelativeDir        string            `yaml:"push_relative_dir"`
	DeletePushed           bool              `yaml:"delete_pushed"`
	Pull                   []string          `yaml:"pull"`
	PullExclude            []string          `yaml:"pull_exclude"`
	RemoteMkdir            []string          `yaml:"remote_mkdir"`
	TestplanPath           string            `yaml:"testplan_path"`
	WorkerHeartbeatSeconds float64           `yaml:"worker_heartbeat_seconds"`
	MaxConcurrentTransfers int               `yaml:"max_concurrent_transfers"`
	// Push holds bare source paths. Config.Push entries with an explicit
	// destination can only be supplied programmatically, not via YAML.
	Push []string `yaml:"push"`
}

// LoadFile reads and parses a YAML configuration file into a Config. The
// returned Config still needs WithDefaults and Validate called on it;
// LoadFile only handles parsing.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config file %s", path)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, errors.Wrapf(err, "failed to parse config file %s", path)
	}

	var push []PushEntry
	for _, src := range fc.Push {
		push = append(push, PushEntry{Source: src})
	}

	return Config{
		Push:                   push,
		Hosts:                  fc.Hosts,
		AbortSignals:           fc.AbortSignals,
		PoolType:               fc.PoolType,
		Host:                   fc.Host,
		Port:                   fc.Port,
		Workspace:              fc.Workspace,
		WorkspaceExclude:       fc.WorkspaceExclude,
		RemoteWorkspace:        fc.RemoteWorkspace,
		Env:                    fc.Env,
		SetupScript:            fc.SetupScript,
		PushExclude:            fc.PushExclude,
		PushRelativeDir:        fc.PushRelativeDir,
		DeletePushed:           fc.DeletePushed,
		Pull:                   fc.Pull,
		PullExclude:            fc.PullExclude,
		RemoteMkdir:            fc.RemoteMkdir,
		TestplanPath:           fc.TestplanPath,
		WorkerHeartbeat:        time.Duration(fc.WorkerHeartbeatSeconds * float64(time.Second)),
		MaxConcurrentTransfers: fc.MaxConcurrentTransfers,
	}, nil
}
