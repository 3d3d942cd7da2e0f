package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# interface and description language, e.g. en or zh-CN (default from $LANG)
lang: ""
# debug, info, warn or error
log_level: info
# mouse taps and drags (TUI-mode only)
mouse: true
# screen reader detection: auto, on or off
screen_reader: auto
# two taps closer than this are a double tap (take a new photo)
tap_window: 300ms

# vertical drag to change the reading speed
gesture:
  # drag distance for a 1.0x change, larger is less sensitive
  sensitivity: 150
  throttle: 100ms
  deadband: 0.1

speech:
  # auto, exec or piper
  backend: auto
  exec:
    # espeak-ng, espeak, say or spd-say; detected when empty
    command: ""
    voice: ""
  piper:
    binary: piper
    # path to a .onnx voice model
    model: ""
    max_rate: 4

# API keys are read from OPENAI_API_KEY and DASHSCOPE_API_KEY
describe:
  # auto, openai or qwen
  provider: auto
  openai:
    model: gpt-4.1-nano
  qwen:
    model: qwen-vl-plus
    base_url: https://dashscope.aliyuncs.com/compatible-mode/v1
  max_tokens: 4000
  max_dimension: 1568
  timeout: 60s

# descriptions of photos seen before
cache:
  memory_capacity: 1048576
  disk_capacity: 33554432
  compression_level: 3
  ttl: 720h

prefs:
  # file, redis or memory
  store: file
  # redis:
  #   addr: localhost:6379
  #   namespace: "narrate:"

analytics:
  enabled: true
  # path: ~/narrate-events.jsonl
`

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the narrate config file",
	Long:    paragraph(fmt.Sprintf("\n%s the narrate config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("narrate config\nnarrate config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("narrate", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
	// The config file may be broken, so it is not loaded here.
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		// File doesn't exist yet, create all necessary directories and
		// write the default config file
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil { // some other error occurred
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
