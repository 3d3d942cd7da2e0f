package config

import (
	"fmt"
	"os"
	"path/filepath"

	gap "github.com/muesli/go-app-paths"
)

// AppName names the config file, directories and environment prefix.
const AppName = "narrate"

// Dirs are the per-user locations the application reads and writes.
type Dirs struct {
	// Config is searched in order for narrate.yml.
	Config []string
	Data   string
	Cache  string
}

// UserDirs resolves the platform directories. NARRATE_CONFIG_HOME and
// XDG_CONFIG_HOME take precedence over the platform config dirs.
func UserDirs() (Dirs, error) {
	scope := gap.NewScope(gap.User, AppName)

	config, err := scope.ConfigDirs()
	if err != nil {
		return Dirs{}, fmt.Errorf("could not find configuration directory: %w", err)
	}
	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		config = append([]string{filepath.Join(c, AppName)}, config...)
	}
	if c := os.Getenv("NARRATE_CONFIG_HOME"); c != "" {
		config = append([]string{c}, config...)
	}

	data, err := scope.DataPath("")
	if err != nil {
		return Dirs{}, fmt.Errorf("could not find data directory: %w", err)
	}
	cache, err := scope.CacheDir()
	if err != nil {
		return Dirs{}, fmt.Errorf("could not find cache directory: %w", err)
	}
	return Dirs{Config: config, Data: data, Cache: cache}, nil
}

// ConfigFile is where a new config file is written.
func (d Dirs) ConfigFile() string {
	return filepath.Join(d.Config[0], AppName+".yml")
}

// LogFile is the log destination.
func (d Dirs) LogFile() string {
	return filepath.Join(d.Cache, AppName+".log")
}
