package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dgnsrekt/narrate/internal/prefs"
	"github.com/spf13/cobra"
)

var prefsAliases = map[string]string{
	"rate":      prefs.KeyRate,
	"speed":     prefs.KeyRate,
	"autoread":  prefs.KeyAutoRead,
	"auto-read": prefs.KeyAutoRead,
	"auto_read": prefs.KeyAutoRead,
	"tutorial":  prefs.KeyTutorialDone,
}

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or change the saved reading preferences",
	Long: paragraph(fmt.Sprintf("\n%s the reading rate and auto-read setting that narrate remembers between sessions. "+
		"Keys are %s, %s and %s. Resetting also replays the first-run tutorial.",
		keyword("Show or change"), keyword("rate"), keyword("auto-read"), keyword("tutorial"))),
	Example: paragraph("narrate prefs\nnarrate prefs set rate 1.5\nnarrate prefs set auto-read false\nnarrate prefs set tutorial false\nnarrate prefs reset"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withPrefsStore(cmd.Context(), func(ctx context.Context, s prefs.Store) error {
			return listPrefs(ctx, s, os.Stdout)
		})
	},
}

var prefsGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print one preference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := resolvePrefsKey(args[0])
		if err != nil {
			return err
		}
		return withPrefsStore(cmd.Context(), func(ctx context.Context, s prefs.Store) error {
			v, err := readPref(ctx, s, key)
			if err != nil {
				return err
			}
			fmt.Println(v)
			return nil
		})
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Change one preference",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := resolvePrefsKey(args[0])
		if err != nil {
			return err
		}
		value, err := prefs.Normalize(key, args[1])
		if err != nil {
			return err //nolint:wrapcheck
		}
		return withPrefsStore(cmd.Context(), func(ctx context.Context, s prefs.Store) error {
			if err := s.Set(ctx, key, value); err != nil {
				return fmt.Errorf("unable to save %s: %w", key, err)
			}
			fmt.Printf("%s = %s\n", keyword(key), value)
			return nil
		})
	},
}

var prefsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the default preferences",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withPrefsStore(cmd.Context(), func(ctx context.Context, s prefs.Store) error {
			if err := resetPrefs(ctx, s); err != nil {
				return err
			}
			return listPrefs(ctx, s, os.Stdout)
		})
	},
}

func init() {
	prefsCmd.AddCommand(prefsGetCmd, prefsSetCmd, prefsResetCmd)
}

func withPrefsStore(ctx context.Context, fn func(context.Context, prefs.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := openPrefsStore(ctx, cfg.Prefs)
	if err != nil {
		return err
	}
	if c, ok := s.(io.Closer); ok {
		defer c.Close() //nolint:errcheck
	}
	return fn(ctx, s)
}

func resolvePrefsKey(name string) (string, error) {
	if k, ok := prefsAliases[strings.ToLower(name)]; ok {
		return k, nil
	}
	for _, k := range prefs.Keys() {
		if k == name {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %s (use rate, auto-read or tutorial)", prefs.ErrUnknownKey, name)
}

// readPref returns the stored value of key, or its default when unset.
func readPref(ctx context.Context, s prefs.Store, key string) (string, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("unable to read %s: %w", key, err)
	}
	if ok {
		return v, nil
	}
	switch key {
	case prefs.KeyRate:
		return prefs.FormatRate(prefs.DefaultRate), nil
	case prefs.KeyAutoRead:
		return strconv.FormatBool(prefs.DefaultAutoRead), nil
	case prefs.KeyTutorialDone:
		return strconv.FormatBool(prefs.DefaultTutorialDone), nil
	}
	return "", prefs.ErrUnknownKey
}

func listPrefs(ctx context.Context, s prefs.Store, w io.Writer) error {
	for _, k := range prefs.Keys() {
		v, err := readPref(ctx, s, k)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s = %s\n", keyword(k), v); err != nil {
			return fmt.Errorf("unable to write to writer: %w", err)
		}
	}
	return nil
}

func resetPrefs(ctx context.Context, s prefs.Store) error {
	d := prefs.DefaultSettings()
	errs := []error{
		s.Set(ctx, prefs.KeyRate, prefs.FormatRate(d.Rate)),
		s.Set(ctx, prefs.KeyAutoRead, strconv.FormatBool(d.AutoRead)),
		s.Set(ctx, prefs.KeyTutorialDone, strconv.FormatBool(d.TutorialDone)),
	}
	return errors.Join(errs...)
}
