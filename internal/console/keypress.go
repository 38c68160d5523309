// Package console waits for a keypress on the controlling terminal.
package console

import (
	"context"
	"io"
	"os"

	"github.com/charmbracelet/x/term"
)

// WaitForKey blocks until a key is pressed on in or ctx is done. When in is
// not a terminal there is no key to wait for, so it only returns on ctx.
// It returns nil in both cases.
func WaitForKey(ctx context.Context, in *os.File) error {
	if in == nil || !term.IsTerminal(in.Fd()) {
		<-ctx.Done()
		return nil
	}

	restore, err := cbreak(in.Fd())
	if err != nil {
		return err
	}
	defer restore()

	return waitForByte(ctx, in)
}

// waitForByte returns after one byte is read from r, or when ctx is done.
// The read goroutine stays blocked after cancellation until r yields or the
// process exits.
func waitForByte(ctx context.Context, r io.Reader) error {
	pressed := make(chan error, 1)
	go func() {
		var b [1]byte
		_, err := r.Read(b[:])
		if err == io.EOF {
			err = nil
		}
		pressed <- err
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-pressed:
		return err
	}
}
