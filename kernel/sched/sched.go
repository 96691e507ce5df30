// Package sched implements a cooperative kernel-thread scheduler: a
// fixed-size thread table, round-robin selection on yield, and a
// callee-saved-register context switch.
//
// gopher-os has no scheduler of its own (it never gets past single-thread
// kmain); this package is new code grounded on the surrounding packages'
// idiom (kernel.Error returns, kfmt diagnostics) and on the trampoline/
// stack-seeding technique a from-scratch cooperative scheduler needs.
package sched

import (
	"github.com/emberkernel/ember/kernel"
	"github.com/emberkernel/ember/kernel/cpu"
	"github.com/emberkernel/ember/kernel/mem"
	"github.com/emberkernel/ember/kernel/mem/heap"
	"github.com/emberkernel/ember/kernel/trap"
)

const modTag = "sched"

// MaxThreads bounds the fixed thread table; Create fails once it fills.
const MaxThreads = 16

// State is a thread's lifecycle state.
type State int

const (
	Unused State = iota
	Ready
	Running
	Blocked
	Dead
)

// Context holds the callee-saved register set a context switch preserves:
// r15, r14, r13, r12, rbx, rbp, rsp.
type Context struct {
	R15, R14, R13, R12, RBX, RBP, RSP uint64
}

// EntryFunc is a thread's top-level function.
type EntryFunc func(arg uintptr)

// Thread is one slot of the fixed thread table.
type Thread struct {
	ID         int
	Name       string
	Priority   int
	State      State
	Context    Context
	KStackBase uintptr
	KStackSize mem.Size
	Entry      EntryFunc
	Arg        uintptr
}

var (
	table          [MaxThreads]Thread
	currentThread  int
	heapForStacks  *heap.Heap
	bootstrapped   bool
)

// Init adopts the currently executing stack as thread 0 ("bootstrap"),
// Running, and records h as the allocator used to back future threads'
// kernel stacks.
func Init(h *heap.Heap) {
	heapForStacks = h
	table[0] = Thread{ID: 0, Name: "bootstrap", State: Running, Priority: 0}
	currentThread = 0
	bootstrapped = true
}

// Current returns the currently running thread's table slot.
func Current() *Thread { return &table[currentThread] }

const defaultStackFrames = 4

// trampoline is the return address seeded atop every freshly created
// thread's stack; it is declared (not defined) here, implemented in
// sched_amd64.s. It calls Current().Entry(Current().Arg), marks the
// thread Dead on return, and calls Yield(); if Yield ever returns (which
// it cannot for a Dead thread), it halts.
func trampoline()

// Create allocates a table slot in state Unused or Dead, builds a
// stackSize-byte (rounded up to whole frames, default 4) kernel stack
// through h, seeds its top word with the trampoline return address,
// zeroes the rest of the context, and transitions the slot to Ready.
func Create(name string, entry EntryFunc, arg uintptr, stackSize mem.Size, priority int) (*Thread, *kernel.Error) {
	if !bootstrapped {
		return nil, &kernel.Error{Module: modTag, Kind: kernel.KindNotReady, Message: "sched.Init has not run"}
	}

	slot := -1
	for i := range table {
		if table[i].State == Unused || table[i].State == Dead {
			slot = i
			break
		}
	}
	if slot == -1 {
		return nil, &kernel.Error{Module: modTag, Kind: kernel.KindOutOfMemory, Message: "thread table full"}
	}

	if stackSize == 0 {
		stackSize = mem.Size(defaultStackFrames) * mem.PageSize
	} else {
		stackSize = mem.Size(stackSize.Pages()) * mem.PageSize
	}

	base, err := heapForStacks.Kmalloc(uintptr(stackSize))
	if err != nil {
		return nil, err
	}

	top := (uintptr(base) + uintptr(stackSize)) &^ 0xF
	top -= 8 // room for the seeded return address
	writeUint64(top, uintptr(funcAddr(trampoline)))

	t := &table[slot]
	*t = Thread{
		ID:         slot,
		Name:       name,
		Priority:   priority,
		State:      Ready,
		KStackBase: uintptr(base),
		KStackSize: stackSize,
		Entry:      entry,
		Arg:        arg,
	}
	t.Context = Context{RSP: uint64(top)}
	return t, nil
}

// Yield is the scheduler's sole suspension point: pick the next ready
// thread, retire the current one if it has run to completion, and swap
// register contexts.
func Yield() {
	cpu.DisableInterrupts()

	next := pickNext()
	if !trap.RescheduleRequested() && next == currentThread {
		cpu.EnableInterrupts()
		return
	}

	prev := currentThread
	if table[prev].State == Running {
		table[prev].State = Ready
	}
	table[next].State = Running
	currentThread = next

	cpu.EnableInterrupts()
	contextSwitch(&table[prev].Context, &table[next].Context)
}

// pickNext scans starting at (current+1) mod N for the first Ready slot,
// falling back to the current thread if none is found.
func pickNext() int {
	for i := 1; i <= MaxThreads; i++ {
		idx := (currentThread + i) % MaxThreads
		if table[idx].State == Ready {
			return idx
		}
	}
	return currentThread
}

// contextSwitch saves prev's callee-saved registers and RSP, loads next's,
// and returns into whatever RSP now points at (the seeded trampoline
// address on a thread's first run, or the instruction after the previous
// contextSwitch call otherwise). Implemented in sched_amd64.s.
func contextSwitch(prev, next *Context)

func writeUint64(addr uintptr, v uintptr) {
	p := ptrUint64(addr)
	*p = uint64(v)
}

// runEntrypoint and markCurrentDead are called from the assembly
// trampoline in sched_amd64.s; they exist as named Go functions only so
// the trampoline has stable symbols to CALL into instead of inlining Go
// semantics (map/slice indexing, interface calls) directly in assembly.
func runEntrypoint() {
	t := Current()
	t.Entry(t.Arg)
}

func markCurrentDead() {
	Current().State = Dead
}
