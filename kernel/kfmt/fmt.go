// Package kfmt provides an allocation-free Printf/Fprintf implementation
// for use before (and after) the heap in kernel/mem/heap exists. Grounded
// on gopher-os's kernel/kfmt package (src/gopheros/kernel/kfmt/fmt.go):
// same verb subset, same width/padding rules, same early ring-buffer
// fallback, adapted to write through hal.Console instead of a tty.Writer.
package kfmt

import (
	"io"

	"github.com/emberkernel/ember/kernel/config"
	"github.com/emberkernel/ember/kernel/hal"
)

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	singleByte = make([]byte, 1)

	// earlyBuf retains output written while no sink is set (Fprintf with a
	// nil writer, or Printf after SetOutputSink(nil)) until SetOutputSink
	// installs one.
	earlyBuf ringBuffer

	// outputSink is the default target for Printf. nil means "write to
	// earlyBuf only".
	outputSink io.Writer
)

// consoleWriter adapts hal.ActiveConsole to io.Writer so the formatter can
// treat "the console" and "a test buffer" identically.
type consoleWriter struct{}

func (consoleWriter) Write(p []byte) (int, error) {
	hal.ActiveConsole.WriteString(string(p))
	if config.Active.SerialMirror && hal.ActiveSerial != nil {
		hal.ActiveSerial.WriteString(string(p))
	}
	return len(p), nil
}

func init() {
	outputSink = consoleWriter{}
}

// SetOutputSink redirects Printf output to w, replaying anything
// accumulated in the early ring buffer first. Passing nil reverts to
// buffering into the ring buffer only.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyBuf)
	}
}

// Printf writes formatted output to the active sink: by default
// hal.ActiveConsole (plus the serial mirror when enabled), which discards
// output until hal.SetConsole installs a console; the early ring buffer
// only after SetOutputSink(nil).
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes to the caller-supplied io.Writer.
// Passing a nil writer buffers into the early ring buffer instead, which is
// useful for diagnostics emitted before hal.SetConsole has been called.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	if w == nil {
		w = &earlyBuf
	}

	var (
		nextCh                       byte
		nextArgIndex                 int
		blockStart, blockEnd, padLen int
		fmtLen                       = len(format)
	)

	for blockEnd < fmtLen {
		nextCh = format[blockEnd]
		if nextCh != '%' {
			blockEnd++
			continue
		}

		for i := blockStart; i < blockEnd; i++ {
			singleByte[0] = format[i]
			w.Write(singleByte)
		}

		padLen = 0
		blockEnd++
	parseFmt:
		for ; blockEnd < fmtLen; blockEnd++ {
			nextCh = format[blockEnd]
			switch {
			case nextCh == '%':
				singleByte[0] = '%'
				w.Write(singleByte)
				break parseFmt
			case nextCh >= '0' && nextCh <= '9':
				padLen = (padLen * 10) + int(nextCh-'0')
				continue
			case nextCh == 'd' || nextCh == 'x' || nextCh == 'o' || nextCh == 's' || nextCh == 't':
				if nextArgIndex >= len(args) {
					w.Write(errMissingArg)
					break parseFmt
				}

				switch nextCh {
				case 'o':
					fmtInt(w, args[nextArgIndex], 8, padLen)
				case 'd':
					fmtInt(w, args[nextArgIndex], 10, padLen)
				case 'x':
					fmtInt(w, args[nextArgIndex], 16, padLen)
				case 's':
					fmtString(w, args[nextArgIndex], padLen)
				case 't':
					fmtBool(w, args[nextArgIndex])
				}

				nextArgIndex++
				break parseFmt
			default:
				w.Write(errNoVerb)
				break parseFmt
			}
		}
		blockStart, blockEnd = blockEnd+1, blockEnd+1
	}

	for i := blockStart; i < blockEnd; i++ {
		singleByte[0] = format[i]
		w.Write(singleByte)
	}

	for ; nextArgIndex < len(args); nextArgIndex++ {
		w.Write(errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	if !ok {
		w.Write(errWrongArgType)
		return
	}
	if b {
		w.Write(trueValue)
	} else {
		w.Write(falseValue)
	}
}

func fmtString(w io.Writer, v interface{}, padLen int) {
	switch val := v.(type) {
	case string:
		fmtRepeat(w, ' ', padLen-len(val))
		io.WriteString(w, val)
	case []byte:
		fmtRepeat(w, ' ', padLen-len(val))
		w.Write(val)
	default:
		w.Write(errWrongArgType)
	}
}

func fmtRepeat(w io.Writer, ch byte, count int) {
	buf := singleByte
	buf[0] = ch
	for i := 0; i < count; i++ {
		w.Write(buf)
	}
}

// fmtInt prints v (any built-in integer type) in the given base with the
// requested left padding.
func fmtInt(w io.Writer, v interface{}, base, padLen int) {
	var (
		sval             int64
		uval             uint64
		divider          uint64
		buf              [24]byte
		padCh            byte
		left, right, end int
	)

	switch base {
	case 8:
		divider, padCh = 8, '0'
	case 10:
		divider, padCh = 10, ' '
	case 16:
		divider, padCh = 16, '0'
	}

	switch val := v.(type) {
	case uint8:
		uval = uint64(val)
	case uint16:
		uval = uint64(val)
	case uint32:
		uval = uint64(val)
	case uint64:
		uval = val
	case uintptr:
		uval = uint64(val)
	case int8:
		sval = int64(val)
	case int16:
		sval = int64(val)
	case int32:
		sval = int64(val)
	case int64:
		sval = val
	case int:
		sval = int64(val)
	default:
		w.Write(errWrongArgType)
		return
	}

	if sval < 0 {
		uval = uint64(-sval)
	} else if sval > 0 {
		uval = uint64(sval)
	}

	for {
		rem := uval % divider
		if rem < 10 {
			buf[right] = byte(rem) + '0'
		} else {
			buf[right] = byte(rem-10) + 'a'
		}
		right++
		uval /= divider
		if uval == 0 {
			break
		}
	}

	for ; right-left < padLen; right++ {
		buf[right] = padCh
	}

	if base == 16 {
		buf[right] = 'x'
		buf[right+1] = '0'
		right += 2
	}

	if sval < 0 {
		for end = right - 1; buf[end] == ' '; end-- {
		}
		if end == right-1 {
			right++
		}
		buf[end+1] = '-'
	}

	end = right
	for right = right - 1; left < right; left, right = left+1, right-1 {
		buf[left], buf[right] = buf[right], buf[left]
	}

	w.Write(buf[0:end])
}
