//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package console

import "github.com/charmbracelet/x/term"

// cbreak falls back to raw mode where termios is unavailable.
func cbreak(fd uintptr) (restore func(), err error) {
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { _ = term.Restore(fd, state) }, nil
}
