package ui

import "time"

// Config contains TUI-specific configuration.
type Config struct {
	// Lang selects the catalog for on-screen text.
	Lang        string
	EnableMouse bool

	// Image is described as soon as the program starts, when set.
	Image string
	// WatchDir is set in watch mode; photos then arrive from the inbox
	// instead of being typed in.
	WatchDir string
	// Tutorial reads the first-run tutorial before asking for a photo.
	Tutorial bool

	// KeyStep is the drag distance a single arrow key press stands for.
	KeyStep float64
	// RowHeight converts mouse rows into drag distance.
	RowHeight float64
	// DragIdle ends a keyboard or wheel drag when no further step arrives.
	DragIdle time.Duration
}

// Defaults for the zero values of Config.
const (
	DefaultKeyStep   = 40.0
	DefaultRowHeight = 20.0
	DefaultDragIdle  = 600 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.KeyStep <= 0 {
		c.KeyStep = DefaultKeyStep
	}
	if c.RowHeight <= 0 {
		c.RowHeight = DefaultRowHeight
	}
	if c.DragIdle <= 0 {
		c.DragIdle = DefaultDragIdle
	}
	return c
}
