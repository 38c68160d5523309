//go:build linux || darwin || freebsd || netbsd || openbsd

package console

import "golang.org/x/sys/unix"

// cbreak turns off line buffering and echo so a single key is readable,
// but keeps output processing and signals so status lines and Ctrl+C
// behave as usual.
func cbreak(fd uintptr) (restore func(), err error) {
	old, err := unix.IoctlGetTermios(int(fd), ioctlGetTermios)
	if err != nil {
		return nil, err
	}

	t := *old
	t.Lflag &^= unix.ICANON | unix.ECHO
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(int(fd), ioctlSetTermios, &t); err != nil {
		return nil, err
	}

	return func() { _ = unix.IoctlSetTermios(int(fd), ioctlSetTermios, old) }, nil
}
