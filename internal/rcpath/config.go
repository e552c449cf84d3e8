// Package rcpath is the path & filesystem layer (spec §4.A): it owns the
// canonical on-disk locations from spec §6 and the atomic marker
// create/remove primitives every other component builds on.
package rcpath

import (
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the canonical on-disk roots. Defaults match spec §6 so the
// zero-value-filled Default() is byte-compatible with third-party scripts
// that hardcode those paths.
type Config struct {
	InitDir       string `yaml:"initDir"`
	RunlevelsDir  string `yaml:"runlevelsDir"`
	StateDir      string `yaml:"stateDir"`
	OptionsDir    string `yaml:"optionsDir"`
	DaemonsDir    string `yaml:"daemonsDir"`
	DeptreeFile   string `yaml:"deptreeFile"`
	SoftlevelFile string `yaml:"softlevelFile"`

	// Interactive and ColorOutput supplement the original's rc_conf global
	// knobs (rc.h: rc_interactive, unicode/color terminal detection) that
	// spec.md treats as out of scope for the core but which cmd/ and
	// internal/tui still need a home for.
	Interactive bool `yaml:"interactive"`
	ColorOutput bool `yaml:"colorOutput"`
}

// Default returns the normative on-disk layout of spec §6.
func Default() Config {
	return Config{
		InitDir:       "/etc/init.d",
		RunlevelsDir:  "/etc/runlevels",
		StateDir:      "/var/lib/rc",
		OptionsDir:    "/var/lib/rc/options",
		DaemonsDir:    "/var/lib/rc/daemons",
		DeptreeFile:   "/var/lib/rc/deptree",
		SoftlevelFile: "/var/lib/rc/softlevel",
		Interactive:   true,
		ColorOutput:   true,
	}
}

// Load reads a YAML config file, filling any field left unset by the
// document with the Default() value for that field.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ScriptPath returns the canonical script path for a service name.
func (c Config) ScriptPath(name string) string {
	return filepath.Join(c.InitDir, name)
}

// StatePath returns the canonical state-marker path for (service, state).
func (c Config) StatePath(state, service string) string {
	return filepath.Join(c.StateDir, state, service)
}

// StateDirFor returns the directory listing all services in a given state.
func (c Config) StateDirFor(state string) string {
	return filepath.Join(c.StateDir, state)
}

// RunlevelMembershipPath returns the canonical membership path for
// (runlevel, service): a symlink from here to ScriptPath(service).
func (c Config) RunlevelMembershipPath(runlevel, service string) string {
	return filepath.Join(c.RunlevelsDir, runlevel, service)
}

// RunlevelDir returns the directory for a runlevel.
func (c Config) RunlevelDir(runlevel string) string {
	return filepath.Join(c.RunlevelsDir, runlevel)
}

// OptionPath returns the canonical option path for (service, key).
func (c Config) OptionPath(service, key string) string {
	return filepath.Join(c.OptionsDir, service, key)
}

// OptionsDirFor returns the directory holding all option keys for a service.
func (c Config) OptionsDirFor(service string) string {
	return filepath.Join(c.OptionsDir, service)
}

// DaemonRecordPath returns the canonical path for a service's Nth daemon
// record (1-based index, per spec §3).
func (c Config) DaemonRecordPath(service string, index int) string {
	return filepath.Join(c.DaemonsDir, service, strconv.Itoa(index))
}

// DaemonsDirFor returns the directory holding all daemon records for a
// service.
func (c Config) DaemonsDirFor(service string) string {
	return filepath.Join(c.DaemonsDir, service)
}
