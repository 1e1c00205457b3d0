package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const defaultDaemonAddress = "127.0.0.1:7657"

const (
	defaultAgentCommand  = "claude"
	defaultAgentModel    = "sonnet"
	defaultAggregateTool = "ReadFiles"
)

var defaultRepeatableTools = []string{"Read"}

type CoreConfig struct {
	Daemon     CoreDaemonConfig     `toml:"daemon"`
	Agent      CoreAgentConfig      `toml:"agent"`
	Compaction CoreCompactionConfig `toml:"compaction"`
	Logging    CoreLoggingConfig    `toml:"logging"`
}

type CoreDaemonConfig struct {
	Address string `toml:"address"`
}

type CoreAgentConfig struct {
	Command        string `toml:"command"`
	DefaultModel   string `toml:"default_model"`
	TranscriptsDir string `toml:"transcripts_dir"`
}

type CoreCompactionConfig struct {
	Disabled        bool     `toml:"disabled"`
	RepeatableTools []string `toml:"repeatable_tools"`
	AggregateTool   string   `toml:"aggregate_tool"`
}

type CoreLoggingConfig struct {
	Level string `toml:"level"`
}

func DefaultCoreConfig() CoreConfig {
	return CoreConfig{
		Daemon: CoreDaemonConfig{
			Address: defaultDaemonAddress,
		},
		Agent: CoreAgentConfig{
			Command:      defaultAgentCommand,
			DefaultModel: defaultAgentModel,
		},
		Compaction: CoreCompactionConfig{
			RepeatableTools: append([]string{}, defaultRepeatableTools...),
			AggregateTool:   defaultAggregateTool,
		},
		Logging: CoreLoggingConfig{
			Level: "info",
		},
	}
}

func LoadCoreConfig() (CoreConfig, error) {
	path, err := CoreConfigPath()
	if err != nil {
		return CoreConfig{}, err
	}
	return loadCoreConfigFromPath(path)
}

func loadCoreConfigFromPath(path string) (CoreConfig, error) {
	cfg := DefaultCoreConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return CoreConfig{}, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return CoreConfig{}, err
	}
	return cfg, nil
}

func (c CoreConfig) DaemonAddress() string {
	addr := strings.TrimSpace(c.Daemon.Address)
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	addr = strings.TrimRight(addr, "/")
	if addr == "" {
		return defaultDaemonAddress
	}
	return addr
}

func (c CoreConfig) DaemonBaseURL() string {
	return "http://" + c.DaemonAddress()
}

func (c CoreConfig) LogLevel() string {
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		return "info"
	}
	return level
}

func (c CoreConfig) AgentCommand() string {
	command := strings.TrimSpace(c.Agent.Command)
	if command == "" {
		return defaultAgentCommand
	}
	return command
}

func (c CoreConfig) AgentDefaultModel() string {
	model := strings.TrimSpace(c.Agent.DefaultModel)
	if model == "" {
		return defaultAgentModel
	}
	return model
}

// AgentTranscriptsDir falls back to the agent CLI's own project transcript
// tree so resumed sessions can be read without extra configuration.
func (c CoreConfig) AgentTranscriptsDir() string {
	if dir := strings.TrimSpace(c.Agent.TranscriptsDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".claude", "projects")
}

func (c CoreConfig) RepeatableTools() []string {
	tools := normalizedList(c.Compaction.RepeatableTools)
	if len(tools) == 0 {
		tools = append([]string{}, defaultRepeatableTools...)
	}
	return tools
}

func (c CoreConfig) AggregateTool() string {
	name := strings.TrimSpace(c.Compaction.AggregateTool)
	if name == "" {
		return defaultAggregateTool
	}
	return name
}

func (c CoreConfig) CompactionEnabled() bool {
	return !c.Compaction.Disabled
}

func normalizedList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	return out
}
