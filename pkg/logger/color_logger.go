package logger

import (
	"fmt"
	"log"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/event"
)

type ColorLogger struct {
	*log.Logger
	plain bool
}

type Color string

const (
	ColorBlack  Color = "\u001b[30m"
	ColorRed    Color = "\u001b[31m"
	ColorGreen  Color = "\u001b[32m"
	ColorYellow Color = "\u001b[33m"
	ColorBlue   Color = "\u001b[34m"
	ColorPurple Color = "\u001b[35m"
	ColorCyan   Color = "\u001b[36m"
	ColorReset  Color = "\u001b[0m"
)

func NewColorLogger(lg *log.Logger) *ColorLogger {
	c := ColorLogger{
		Logger: lg,
	}
	return &c
}

// NewPlainLogger returns a ColorLogger that never writes escape codes, for
// output that is not a terminal.
func NewPlainLogger(lg *log.Logger) *ColorLogger {
	return &ColorLogger{Logger: lg, plain: true}
}

func (c *ColorLogger) paint(color Color, s string) string {
	if c.plain {
		return s
	}
	return string(color) + s + string(ColorReset)
}

func (c *ColorLogger) Printcf(color Color, format string, args ...interface{}) {
	c.Print(c.paint(color, fmt.Sprintf(format, args...)))
}

func (c *ColorLogger) Printc(color Color, s string) {
	c.Print(c.paint(color, s))
}

// Printe prints e as "path: flags" in the colour of its most significant flag.
func (c *ColorLogger) Printe(e event.FileEvent) {
	c.Print(c.paint(EventColor(e.Flags), e.String()))
}

// EventColor picks a colour for a set of flags. Anything that asks the
// consumer to rescan wins over the item level changes.
func EventColor(s event.FlagSet) Color {
	switch {
	case s.Has(event.MustScanSubDirs), s.Has(event.UserDropped), s.Has(event.KernelDropped), s.Has(event.RootChanged):
		return ColorPurple
	case s.Has(event.ItemRemoved):
		return ColorRed
	case s.Has(event.ItemRenamed):
		return ColorYellow
	case s.Has(event.ItemCreated):
		return ColorGreen
	case s.Has(event.ItemModified):
		return ColorBlue
	default:
		return ColorCyan
	}
}
