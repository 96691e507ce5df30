package trap

import (
	"github.com/emberkernel/ember/kernel/cpu"
	"github.com/emberkernel/ember/kernel/kfmt"
)

// Frame mirrors the register layout the common assembly stub pushes onto
// the interrupt stack before calling Dispatch: CPU-pushed {ss,rsp,
// rflags,cs,rip}, stub-pushed {errorCode,intNo}, then the saved
// general-purpose registers. Field order matches the push order in
// idt_amd64.s exactly; Dispatch receives a pointer straight into the
// in-interrupt stack.
type Frame struct {
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	RDI, RSI, RBP, RDX, RCX, RBX, RAX    uint64
	IntNo, ErrorCode                     uint64
	RIP, CS, RFLAGS, RSP, SS             uint64
}

// Handler is a registered IRQ/exception callback.
type Handler func(f *Frame)

var handlers [idtEntries]Handler

// Register installs h as the handler for vector, overwriting any previous
// registration. Intended for vectors >= 32; exception vectors are always
// routed to the panic path regardless of registration.
func Register(vector int, h Handler) {
	handlers[vector] = h
}

// rescheduleRequested is set by the timer handler and consumed by
// sched.Yield; it lives here (not in package sched) because only the trap
// layer may write it, and only with interrupts already disabled by virtue
// of running in an interrupt context.
var rescheduleRequested bool

// RescheduleRequested reports and clears the flag the timer tick set;
// each tick is consumed at most once.
func RescheduleRequested() bool {
	r := rescheduleRequested
	rescheduleRequested = false
	return r
}

const timerVector = 32

// Dispatch is called by the common assembly stub for every vector. CPU
// exceptions (<32) always panic; everything else goes to a registered
// handler, or is logged as unhandled, followed by EOI when the vector was
// an IRQ.
//
//go:nosplit
func Dispatch(f *Frame) {
	if f.IntNo < 32 {
		panicFrame(f)
		return
	}

	if f.IntNo == timerVector {
		rescheduleRequested = true
	}

	if h := handlers[f.IntNo]; h != nil {
		h(f)
	} else {
		kfmt.Printf("[trap] unhandled IRQ %d\n", f.IntNo)
	}

	if f.IntNo >= 32 && f.IntNo <= 47 {
		sendEOI(uint8(f.IntNo))
	}
}

var exceptionNames = [32]string{
	0: "Divide-by-zero", 1: "Debug", 2: "NMI", 3: "Breakpoint",
	4: "Overflow", 5: "Bound Range Exceeded", 6: "Invalid Opcode",
	7: "Device Not Available", 8: "Double Fault", 10: "Invalid TSS",
	11: "Segment Not Present", 12: "Stack-Segment Fault",
	13: "General Protection Fault", 14: "Page Fault", 16: "x87 FP Exception",
	17: "Alignment Check", 18: "Machine Check", 19: "SIMD FP Exception",
}

func exceptionName(n uint64) string {
	if n < uint64(len(exceptionNames)) {
		if name := exceptionNames[n]; name != "" {
			return name
		}
	}
	return "Unknown Exception"
}

// panicFrame renders a full register dump and halts forever with
// interrupts disabled. Never returns.
func panicFrame(f *Frame) {
	cpu.DisableInterrupts()

	kfmt.Printf("\n*** KERNEL PANIC ***\n")
	kfmt.Printf("exception: %s (vector %d, error %d)\n", exceptionName(f.IntNo), f.IntNo, f.ErrorCode)
	if f.IntNo == 14 {
		kfmt.Printf("cr2: %x\n", cpu.ReadCR2())
	}
	kfmt.Printf("rip=%x cs=%x rflags=%x rsp=%x ss=%x\n", f.RIP, f.CS, f.RFLAGS, f.RSP, f.SS)
	kfmt.Printf("rax=%x rbx=%x rcx=%x rdx=%x\n", f.RAX, f.RBX, f.RCX, f.RDX)
	kfmt.Printf("rsi=%x rdi=%x rbp=%x\n", f.RSI, f.RDI, f.RBP)
	kfmt.Printf("r8=%x r9=%x r10=%x r11=%x\n", f.R8, f.R9, f.R10, f.R11)
	kfmt.Printf("r12=%x r13=%x r14=%x r15=%x\n", f.R12, f.R13, f.R14, f.R15)
	kfmt.Printf("System Halted.\n")

	for {
		cpu.Halt()
	}
}
