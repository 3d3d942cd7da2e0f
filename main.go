// Package main provides the entry point for the narrate CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/narrate/internal/config"
	"github.com/dgnsrekt/narrate/internal/i18n"
	"github.com/dgnsrekt/narrate/ui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	printMode  bool
	silent     bool
	width      uint

	dirs config.Dirs
	cfg  config.Config

	rootCmd = &cobra.Command{
		Use:   "narrate [IMAGE]",
		Short: "Describe photos out loud",
		Long: paragraph(
			fmt.Sprintf("\nDescribe photos %s, for people who can't see them.", keyword("out loud")),
		),
		Example:          paragraph("narrate photo.jpg\nnarrate --lang zh-CN photo.jpg\nnarrate photo.jpg > description.txt"),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.MaximumNArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return []string{"jpg", "jpeg", "png", "webp", "gif"}, cobra.ShellCompDirectiveFilterFileExt
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

func validateOptions(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	var err error
	cfg, err = config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if cfg.Lang == "" {
		cfg.Lang = i18n.FromEnv()
	}

	if viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	} else if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	log.Debug("Configuration loaded", "file", viper.ConfigFileUsed(), "lang", cfg.Lang, "provider", cfg.Describe.Provider)

	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	if !isTerminal && !cmd.Flags().Changed("print") {
		printMode = true
	}

	// Detect terminal width
	if !cmd.Flags().Changed("width") {
		if isTerminal && width == 0 {
			w, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err == nil {
				width = uint(w) //nolint:gosec
			}
			if width > 120 {
				width = 120
			}
		}
		if width == 0 {
			width = 80
		}
	}
	return nil
}

func execute(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var image string
	if len(args) == 1 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("unable to get absolute path: %w", err)
		}
		if _, err := os.Stat(abs); err != nil {
			return fmt.Errorf("unable to open photo: %w", err)
		}
		image = abs
	}

	if printMode {
		if image == "" {
			return errors.New("a photo is required when output is not a terminal")
		}
		a, err := newApp(ctx, cfg, !silent)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck
		return a.runPrint(ctx, os.Stdout, image, !silent)
	}

	return runTUI(ctx, ui.Config{Image: image}, nil)
}

// runTUI runs the controller and the Bubble Tea program side by side until
// either stops. photos is only set in watch mode.
func runTUI(ctx context.Context, uiCfg ui.Config, photos <-chan string, extra ...func(context.Context) error) error {
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	uiCfg.Lang = cfg.Lang
	uiCfg.EnableMouse = cfg.Mouse
	uiCfg.KeyStep = cfg.Gesture.Sensitivity / 4
	uiCfg.Tutorial = !a.ctrl.TutorialDone()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.ctrl.Run(ctx) })
	for _, fn := range extra {
		g.Go(func() error { return fn(ctx) })
	}
	g.Go(func() error {
		defer cancel()
		p := ui.NewProgram(uiCfg, a.ctrl, photos)
		go func() {
			<-ctx.Done()
			p.Quit()
		}()
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("unable to run tui program: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := config.LoadDotEnv(".env", filepath.Join(dirs.Config[0], ".env")); err != nil {
		log.Warn("Could not load .env", "error", err)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().Bool("debug", false, "write debug output to the log file")
	rootCmd.PersistentFlags().StringP("lang", "L", "", "interface and description language, e.g. en or zh-CN (default from $LANG)")
	rootCmd.PersistentFlags().String("provider", "", "vision provider: auto, openai or qwen")
	rootCmd.PersistentFlags().BoolP("mouse", "m", true, "enable mouse taps and drags (TUI-mode only)")
	rootCmd.PersistentFlags().String("screen-reader", "", "screen reader detection: auto, on or off")
	rootCmd.PersistentFlags().BoolVarP(&printMode, "print", "p", false, "print the description instead of starting the TUI")
	rootCmd.PersistentFlags().BoolVarP(&silent, "silent", "s", false, "do not read the description aloud in print mode")
	rootCmd.PersistentFlags().UintVarP(&width, "width", "w", 0, "word-wrap printed descriptions at width")

	// Config bindings
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("lang", rootCmd.PersistentFlags().Lookup("lang"))
	_ = viper.BindPFlag("describe.provider", rootCmd.PersistentFlags().Lookup("provider"))
	_ = viper.BindPFlag("mouse", rootCmd.PersistentFlags().Lookup("mouse"))
	_ = viper.BindPFlag("screen_reader", rootCmd.PersistentFlags().Lookup("screen-reader"))

	rootCmd.AddCommand(configCmd, manCmd, watchCmd, prefsCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	var err error
	dirs, err = config.UserDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	for _, v := range dirs.Config {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName(config.AppName)
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix(config.AppName)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	config.SetDefaults(viper.GetViper(), dirs)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	configFile = dirs.ConfigFile()
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
