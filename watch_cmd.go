package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/narrate/internal/camera"
	"github.com/dgnsrekt/narrate/internal/i18n"
	"github.com/dgnsrekt/narrate/ui"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var watchCmd = &cobra.Command{
	Use:   "watch DIR",
	Short: "Describe every new photo saved into a directory",
	Long: paragraph(fmt.Sprintf("\n%s a directory and describe each photo written into it. "+
		"Point a phone sync folder, a screenshot tool or a webcam script at DIR and every new picture "+
		"starts a new description, just like taking another photo.", keyword("Watch"))),
	Example: paragraph("narrate watch ~/Pictures/Camera\nnarrate watch --print /tmp/shots"),
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		dir, err := homedir.Expand(args[0])
		if err != nil {
			return fmt.Errorf("unable to expand %s: %w", args[0], err)
		}
		inbox, err := camera.NewInbox(dir, camera.WithLogger(log.Default().WithPrefix("camera")))
		if err != nil {
			return err //nolint:wrapcheck
		}
		defer inbox.Close() //nolint:errcheck

		if printMode {
			return watchPrint(ctx, inbox, os.Stdout, !silent)
		}
		return runTUI(ctx, ui.Config{WatchDir: inbox.Dir()}, inbox.Photos(), inbox.Run)
	},
}

// watchPrint prints a description for every photo until ctx is done. A new
// photo interrupts the reading of the previous one.
func watchPrint(ctx context.Context, inbox *camera.Inbox, w io.Writer, speak bool) error {
	a, err := newApp(ctx, cfg, speak)
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	return a.withController(ctx, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return inbox.Run(gctx) })
		g.Go(func() error {
			fmt.Fprintln(os.Stderr, subtle(a.tr.T(i18n.WaitingForPhoto, inbox.Dir())))
			for {
				select {
				case <-gctx.Done():
					return nil
				case photo := <-inbox.Photos():
					text, err := a.printDescription(gctx, w, photo)
					if err != nil {
						return err
					}
					if !speak {
						continue
					}
					if err := a.ctrl.StartWithDescription(photo, text); err != nil {
						return err //nolint:wrapcheck
					}
				}
			}
		})
		if err := g.Wait(); err != nil && ctx.Err() == nil {
			return err //nolint:wrapcheck
		}
		return nil
	})
}
