package kfmt

import (
	"bytes"
	"testing"
)

func TestFprintf(t *testing.T) {
	specs := []struct {
		format string
		args   []interface{}
		exp    string
	}{
		{"no args", nil, "no args"},
		{"%t", []interface{}{true}, "true"},
		{"%41t", []interface{}{false}, "false"},
		{"%s arg", []interface{}{"STRING"}, "STRING arg"},
		{"%s arg", []interface{}{[]byte("BYTE SLICE")}, "BYTE SLICE arg"},
		{"'%4s' padded", []interface{}{"ABC"}, "' ABC' padded"},
		{"'%4s' over", []interface{}{"ABCDE"}, "'ABCDE' over"},
		{"uint: %d", []interface{}{uint8(10)}, "uint: 10"},
		{"uint: %o", []interface{}{uint16(0777)}, "uint: 777"},
		{"uint: %x", []interface{}{uint32(0xdead)}, "uint: 0xdead"},
		{"int: %d", []interface{}{int(-42)}, "int: -42"},
		{"int padded: %6d", []interface{}{int(-42)}, "int padded:    -42"},
		{"%d and %s", []interface{}{1, "two"}, "1 and two"},
		{"missing: %d", nil, "missing: (MISSING)"},
		{"wrong: %d", []interface{}{"nope"}, "wrong: %!(WRONGTYPE)"},
		{"extra", []interface{}{1, 2}, "extra%!(EXTRA)%!(EXTRA)"},
		{"literal %%", nil, "literal %"},
	}

	for specIndex, spec := range specs {
		var buf bytes.Buffer
		Fprintf(&buf, spec.format, spec.args...)
		if got := buf.String(); got != spec.exp {
			t.Errorf("spec %d: expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}

func TestRingBufferFallback(t *testing.T) {
	earlyBuf = ringBuffer{}

	Fprintf(nil, "buffered %d", 42)

	var buf bytes.Buffer
	SetOutputSink(&buf)
	defer SetOutputSink(nil)

	if got, exp := buf.String(), "buffered 42"; got != exp {
		t.Errorf("expected ring buffer to replay %q into the new sink; got %q", exp, got)
	}
}
