package output

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ColorScheme defines the colors used in the text summary.
type ColorScheme struct {
	Title   *color.Color
	Section *color.Color
	Name    *color.Color
	Value   *color.Color
	Dim     *color.Color
	Pass    *color.Color
	Fail    *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	s := &ColorScheme{
		Title:   color.New(color.FgCyan, color.Bold),
		Section: color.New(color.Bold),
		Name:    color.New(color.FgWhite),
		Value:   color.New(color.FgCyan),
		Dim:     color.New(color.Faint),
		Pass:    color.New(color.FgGreen),
		Fail:    color.New(color.FgRed),
	}
	for _, c := range s.all() {
		c.EnableColor()
	}
	return s
}

// NoColorScheme returns a color scheme with all colors disabled.
func NoColorScheme() *ColorScheme {
	s := DefaultColorScheme()
	for _, c := range s.all() {
		c.DisableColor()
	}
	return s
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Section, s.Name, s.Value, s.Dim, s.Pass, s.Fail}
}

// UseColor reports whether w is a terminal that should receive colors.
// NO_COLOR disables colors everywhere.
func UseColor(w io.Writer) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
