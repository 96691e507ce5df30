// Command devconsole is the operator-facing developer console for a
// running kernel instance. It dials the TCP socket an emulator exposes
// for the kernel's serial sink (e.g. QEMU's "-serial tcp:127.0.0.1:4444"),
// puts the local terminal into raw mode, and relays bytes in both
// directions until the connection closes or the operator presses the
// escape sequence (Ctrl-]).
//
// This tool runs on the operator's host, never inside the kernel image:
// the freestanding core cannot import third-party modules (no hosted Go
// runtime to link them against), so golang.org/x/term and
// golang.org/x/sys live here instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/emberkernel/ember/tools/devconsole/internal/tty"
)

const escapeByte = 0x1d // Ctrl-]

func main() {
	addr := flag.String("addr", "127.0.0.1:4444", "address of the kernel's serial socket")
	flag.Parse()

	if err := run(*addr); err != nil {
		fmt.Fprintln(os.Stderr, "devconsole:", err)
		os.Exit(1)
	}
}

func run(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	console, err := tty.NewConsole(os.Stdin, os.Stdout)
	if err != nil {
		return err
	}
	defer console.Restore()

	ctx, cause := context.WithCancelCause(context.Background())

	go console.ReadLoop(ctx, cause)
	go relayFromRemote(conn, console.Writer(), cause)
	go relayToRemote(ctx, console.Keys(), conn, cause)

	<-ctx.Done()

	if err := context.Cause(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// relayFromRemote copies every byte the kernel writes to its serial sink
// onto the local terminal, until the connection closes.
func relayFromRemote(conn net.Conn, out io.Writer, cancel context.CancelCauseFunc) {
	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				cancel(werr)
				return
			}
		}
		if err != nil {
			cancel(err)
			return
		}
	}
}

// relayToRemote forwards local keystrokes to the kernel's serial socket,
// watching for the escape sequence that ends the session.
func relayToRemote(ctx context.Context, keys <-chan byte, conn net.Conn, cancel context.CancelCauseFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-keys:
			if b == escapeByte {
				cancel(nil)
				return
			}
			if _, err := conn.Write([]byte{b}); err != nil {
				cancel(err)
				return
			}
		}
	}
}
