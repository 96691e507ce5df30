// Package hal defines the boundary between this core and the external
// collaborators it never implements: the framebuffer text console, the
// ANSI-SGR renderer, and the UART-backed serial mirror. The core only
// ever depends on the interfaces below; a real kernel wires a
// framebuffer console and a 16550 UART driver into ActiveConsole/SerialSink,
// neither of which this package implements.
//
// Mirrors gopher-os's kernel/hal/hal.go ActiveTerminal pattern.
package hal

// Console is the line-oriented text surface the panic path and the shell
// write to. Implementations own cursor position, scrollback and color state;
// none of that is this package's concern.
type Console interface {
	// WriteString writes raw bytes to the console, interpreting control
	// characters (if any) the way the concrete console chooses to.
	WriteString(s string)
}

// SerialSink is the mirrored log target enabled by a runtime flag (see
// kernel/config). A nil SerialSink means serial mirroring is disabled.
type SerialSink interface {
	WriteString(s string)
}

// nullConsole discards everything written to it. It is the zero-value
// ActiveConsole before a real console driver calls SetConsole, and it is
// what tests use when they don't care about rendered output.
type nullConsole struct{}

func (nullConsole) WriteString(string) {}

var (
	// ActiveConsole is the console instance consumed by kernel/trap and
	// kernel/kfmt. Defaults to a no-op sink.
	ActiveConsole Console = nullConsole{}

	// ActiveSerial is the optional mirror sink. nil unless SetSerial is
	// called by the UART driver during boot.
	ActiveSerial SerialSink
)

// SetConsole installs the real console implementation. Called once during
// boot by the (out-of-scope) framebuffer console driver.
func SetConsole(c Console) {
	if c == nil {
		ActiveConsole = nullConsole{}
		return
	}
	ActiveConsole = c
}

// SetSerial installs the serial mirror sink, or clears it if s is nil.
func SetSerial(s SerialSink) {
	ActiveSerial = s
}
