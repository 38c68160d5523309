package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/term"
	"github.com/muesli/termenv"

	"github.com/basecamp/daemon-console/internal/tui"
)

// Format specifies the output format.
type Format int

const (
	FormatAuto   Format = iota // Auto-detect: TTY → Styled, non-TTY → Plain
	FormatPlain                // Unstyled text lines
	FormatStyled               // ANSI styled output (forced, even when piped)
	FormatJSON                 // One JSON object per line
)

// ParseFormat maps a config/flag value to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "auto":
		return FormatAuto, nil
	case "plain", "text":
		return FormatPlain, nil
	case "styled", "color":
		return FormatStyled, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatAuto, ErrUsageHint(fmt.Sprintf("Unknown output format %q", s), "Use auto, plain, styled or json")
	}
}

// Options controls output behavior.
type Options struct {
	Format Format
	Writer io.Writer
	Theme  *tui.Theme
	Now    func() time.Time
}

// Console writes status lines and result fields for the poll loop.
// Color is cosmetic: every line carries the same text in plain mode.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	format Format
	now    func() time.Time

	success  lipgloss.Style
	progress lipgloss.Style
	warning  lipgloss.Style
	failure  lipgloss.Style
	hint     lipgloss.Style
	muted    lipgloss.Style
	plain    lipgloss.Style
}

// New creates a console writer.
func New(opts Options) *Console {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	theme := tui.ResolveTheme()
	if opts.Theme != nil {
		theme = *opts.Theme
	}

	format := opts.Format
	if format == FormatAuto {
		if isTTY(opts.Writer) {
			format = FormatStyled
		} else {
			format = FormatPlain
		}
	}

	c := &Console{w: opts.Writer, format: format, now: opts.Now}

	re := lipgloss.NewRenderer(opts.Writer)
	c.plain = re.NewStyle()
	if format == FormatStyled {
		re.SetColorProfile(termenv.ANSI256)
		c.success = re.NewStyle().Foreground(lipgloss.Color(theme.Success.Dark))
		c.progress = re.NewStyle().Foreground(lipgloss.Color(theme.Warning.Dark))
		c.warning = re.NewStyle().Foreground(lipgloss.Color(theme.Warning.Dark)).Bold(true)
		c.failure = re.NewStyle().Foreground(lipgloss.Color(theme.Error.Dark)).Bold(true)
		c.hint = re.NewStyle().Foreground(lipgloss.Color(theme.Muted.Dark)).Italic(true)
		c.muted = re.NewStyle().Foreground(lipgloss.Color(theme.Muted.Dark))
	} else {
		re.SetColorProfile(termenv.Ascii)
		c.success = re.NewStyle()
		c.progress = re.NewStyle()
		c.warning = re.NewStyle()
		c.failure = re.NewStyle()
		c.hint = re.NewStyle()
		c.muted = re.NewStyle()
	}

	return c
}

// Format returns the effective format after TTY detection.
func (c *Console) Format() Format {
	return c.format
}

// Success prints a success status line.
func (c *Console) Success(msg string) {
	c.line("success", c.success, msg)
}

// Progress prints an in-flight status line.
func (c *Console) Progress(msg string) {
	c.line("progress", c.progress, msg)
}

// Warn prints a warning line.
func (c *Console) Warn(msg string) {
	c.line("warning", c.warning, msg)
}

// Info prints an unstyled informational line.
func (c *Console) Info(msg string) {
	c.line("info", c.plain, msg)
}

// Hint prints a muted remediation line.
func (c *Console) Hint(msg string) {
	c.line("hint", c.hint, msg)
}

// Failure prints a non-fatal error line. The poll loop keeps running.
func (c *Console) Failure(err error) {
	if err == nil {
		return
	}
	c.line("error", c.failure, err.Error())
}

// Field prints one result field as "name = value".
func (c *Console) Field(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.format == FormatJSON {
		c.writeJSON(map[string]any{
			"time":  c.now().Format(time.RFC3339Nano),
			"level": "field",
			"name":  name,
			"value": value,
		})
		return
	}
	if c.format == FormatStyled {
		// Response values must not drive the terminal.
		name, value = ansi.Strip(name), ansi.Strip(value)
	}
	fmt.Fprintf(c.w, "%s = %s\n", name, value)
}

// Err renders a fatal error with its hint.
func (c *Console) Err(err error) error {
	e := AsError(err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.format == FormatJSON {
		return c.writeJSON(map[string]any{
			"ok":    false,
			"error": e.Message,
			"code":  e.Code,
			"hint":  e.Hint,
		})
	}

	if _, err := fmt.Fprintln(c.w, c.failure.Render("Error: "+e.Message)); err != nil {
		return err
	}
	if e.Hint != "" {
		_, err := fmt.Fprintln(c.w, c.hint.Render("Hint: "+e.Hint))
		return err
	}
	return nil
}

// Data writes v as indented JSON regardless of format.
func (c *Console) Data(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	enc := json.NewEncoder(c.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table prints aligned key/value rows with muted keys.
func (c *Console) Table(rows [][2]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	width := 0
	for _, r := range rows {
		if len(r[0]) > width {
			width = len(r[0])
		}
	}
	for _, r := range rows {
		key := fmt.Sprintf("%-*s", width, r[0])
		fmt.Fprintf(c.w, "%s  %s\n", c.muted.Render(key), r[1])
	}
}

func (c *Console) line(level string, style lipgloss.Style, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.format == FormatJSON {
		_ = c.writeJSON(map[string]any{
			"time":    c.now().Format(time.RFC3339Nano),
			"level":   level,
			"message": msg,
		})
		return
	}
	if c.format == FormatStyled {
		// Error text can carry a response body.
		msg = ansi.Strip(msg)
	}
	fmt.Fprintln(c.w, style.Render(msg))
}

func (c *Console) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.w, string(data))
	return err
}

// isTTY checks if the writer is a terminal.
func isTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(f.Fd())
	}
	return false
}
