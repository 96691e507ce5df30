// Package tty adapts the operator's local terminal into a raw-mode console
// wired to the kernel's serial sink (kernel/hal.ActiveSerial's real-world
// counterpart: a 16550 UART exposed by the emulator as a TCP socket or
// pseudo-terminal). Grounded on smoynes-elsie's cmd/internal/tty package,
// which does the same job for that project's LC-3 console, adapted here to
// relay against a net.Conn instead of an in-process device.
package tty

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// ErrNoTTY is returned if standard input is not a terminal.
var ErrNoTTY error = errors.New("devconsole: not a TTY")

// Console is the operator's terminal, switched to raw mode for the
// duration of a session so that the remote kernel sees every keystroke
// (including control characters) without local line editing.
type Console struct {
	in    *os.File
	out   *term.Terminal
	fd    int
	state *term.State
	keyCh chan byte
}

// NewConsole puts sin into raw mode and wraps sout as a term.Terminal.
// Callers must call Restore before the process exits.
func NewConsole(sin, sout *os.File) (*Console, error) {
	fd := int(sin.Fd())

	if !term.IsTerminal(fd) {
		return nil, ErrNoTTY
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoTTY, err)
	}

	cons := &Console{
		fd:    fd,
		in:    sin,
		out:   term.NewTerminal(sout, ""),
		state: saved,
		keyCh: make(chan byte, 1),
	}

	if err := cons.setTerminalParams(1, 0); err != nil {
		return nil, err
	}

	return cons, nil
}

// Writer returns an io.Writer that writes to the local terminal.
func (c *Console) Writer() io.Writer {
	return c.out
}

// Keys returns the channel bytes read from the local terminal arrive on.
func (c *Console) Keys() <-chan byte {
	return c.keyCh
}

// Restore returns the terminal to its initial state and unblocks any
// in-progress read.
func (c *Console) Restore() {
	_ = c.in.SetReadDeadline(time.Now())
	_ = term.Restore(c.fd, c.state)
}

func (c *Console) setTerminalParams(vmin, vtime byte) error {
	_ = syscall.SetNonblock(c.fd, true)

	termIO, err := unix.IoctlGetTermios(c.fd, getTermiosIoctl)
	if err != nil {
		return err
	}

	termIO.Cc[unix.VMIN] = vmin
	termIO.Cc[unix.VTIME] = vtime

	if err := unix.IoctlSetTermios(c.fd, setTermiosIoctl, termIO); err != nil {
		return err
	}

	_ = c.in.SetReadDeadline(time.Time{})

	return nil
}

// ReadLoop copies bytes from the local terminal into Keys until ctx is
// cancelled or the read fails.
func (c *Console) ReadLoop(ctx context.Context, cancel context.CancelCauseFunc) {
	buf := bufio.NewReader(c.in)

	_ = syscall.SetNonblock(c.fd, false)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		b, err := buf.ReadByte()
		if err != nil {
			cancel(err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case c.keyCh <- b:
		}
	}
}
