package report

import (
	"fmt"

	"github.com/blacktop/crashkit/pkg/backtrace"
	"github.com/blacktop/crashkit/pkg/fault"
	"github.com/blacktop/crashkit/pkg/jwriter"
	"github.com/blacktop/crashkit/pkg/memory"
)

// Stack window tuning, in pointer-sized slots around the stack pointer.
const (
	stackDumpPushed = 20
	stackDumpPopped = 10

	notableSearchBack = 20
	notableSearchFwd  = 10

	ptrSize = 8
)

// writeAllThreads dumps every captured thread into the crash section.
func (r *Reporter) writeAllThreads(w *jwriter.FieldWriter, threads []*fault.ExecutionContext) {
	w.BeginArray(fieldThreads)
	for _, ec := range threads {
		r.writeThread(w, "", ec, true)
	}
	w.End()
}

// writeThread emits one thread record. searchMemory enables the stack dump
// and notable-address scan for the faulting thread; the recrash flow turns
// it off to keep the recovery path minimal.
func (r *Reporter) writeThread(w *jwriter.FieldWriter, key string, ec *fault.ExecutionContext, searchMemory bool) {
	frames, skipped := backtrace.Capture(r.mem, ec, r.cfg.MaxFrames)

	w.BeginObject(key)
	defer w.End()

	r.writeBacktrace(w, frames, skipped)
	r.writeRegisters(w, ec)
	w.AddInt(fieldIndex, int64(ec.ThreadIndex))
	if r.cfg.SearchThreadNames && ec.ThreadName != "" {
		w.AddString(fieldName, ec.ThreadName)
	}
	if r.cfg.SearchQueueNames && ec.QueueName != "" {
		w.AddString(fieldDispatchQueue, ec.QueueName)
	}
	w.AddBool(fieldCrashed, ec.Crashed)
	w.AddBool(fieldCurrentThread, ec.Reporting)

	if ec.Crashed && searchMemory {
		r.writeStack(w, ec)
		if r.cfg.Introspect && r.insp != nil {
			r.writeNotableAddresses(w, ec)
		}
	}
}

func (r *Reporter) writeBacktrace(w *jwriter.FieldWriter, frames []uint64, skipped int) {
	w.BeginObject(fieldBacktrace)
	defer w.End()

	w.BeginArray(fieldContents)
	for _, f := range r.sym.ResolveAll(frames) {
		w.BeginObject("")
		if f.ObjectName != "" {
			w.AddString(fieldObjectName, f.ObjectName)
			w.AddUint(fieldObjectAddr, f.ObjectAddr)
		}
		if f.SymbolName != "" {
			w.AddString(fieldSymbolName, f.SymbolName)
		}
		if f.SymbolAddr != 0 {
			w.AddUint(fieldSymbolAddr, f.SymbolAddr)
		}
		w.AddUint(fieldInstrAddr, f.InstructionAddr)
		w.End()
	}
	w.End()
	w.AddInt(fieldSkipped, int64(skipped))
}

// writeRegisters dumps the general-purpose set and, when present, the
// exception-specific set. A slot with no canonical name gets a synthesized
// r<N> name.
func (r *Reporter) writeRegisters(w *jwriter.FieldWriter, ec *fault.ExecutionContext) {
	if len(ec.Registers) == 0 && len(ec.ExceptionRegisters) == 0 {
		return
	}
	w.BeginObject(fieldRegisters)
	defer w.End()

	writeSet := func(key string, regs []fault.Register) {
		w.BeginObject(key)
		for i, reg := range regs {
			name := reg.Name
			if name == "" {
				name = fmt.Sprintf("r%d", i)
			}
			w.AddUint(name, reg.Value)
		}
		w.End()
	}

	if len(ec.Registers) > 0 {
		writeSet(fieldBasic, ec.Registers)
	}
	if len(ec.ExceptionRegisters) > 0 {
		writeSet(fieldExcRegisters, ec.ExceptionRegisters)
	}
}

// stackWindow computes a direction-aware [low, high) byte window around the
// stack pointer. When the growth direction puts the bounds in the wrong
// order they are swapped, so the window is always ascending.
func stackWindow(ec *fault.ExecutionContext, back, fwd int) (uint64, uint64) {
	dir := int64(ec.StackDirection())
	low := int64(ec.StackPointer) + int64(back*ptrSize)*dir*-1
	high := int64(ec.StackPointer) + int64(fwd*ptrSize)*dir
	if high < low {
		low, high = high, low
	}
	if low < 0 {
		low = 0
	}
	return uint64(low), uint64(high)
}

// writeStack dumps the raw bytes of a bounded window around the faulting
// thread's stack pointer. An unreadable window is reported explicitly, not
// silently dropped.
func (r *Reporter) writeStack(w *jwriter.FieldWriter, ec *fault.ExecutionContext) {
	low, high := stackWindow(ec, stackDumpPushed, stackDumpPopped)

	w.BeginObject(fieldStack)
	defer w.End()

	if ec.StackGrowsDown {
		w.AddString(fieldGrowDirection, "-")
	} else {
		w.AddString(fieldGrowDirection, "+")
	}
	w.AddUint(fieldDumpStart, low)
	w.AddUint(fieldDumpEnd, high)
	w.AddUint(fieldStackPointer, ec.StackPointer)
	w.AddBool(fieldOverflow, r.stackOverflow)

	buf := make([]byte, high-low)
	if err := r.mem.ReadAt(buf, low); err != nil {
		w.AddString(fieldError, "Stack contents not accessible")
		return
	}
	w.AddData(fieldContents, buf)
}

// writeNotableAddresses scans the register file and a wide stack window at
// pointer strides, introspecting every value that passes the notable check.
func (r *Reporter) writeNotableAddresses(w *jwriter.FieldWriter, ec *fault.ExecutionContext) {
	w.BeginObject(fieldNotable)
	defer w.End()

	for i, reg := range ec.Registers {
		name := reg.Name
		if name == "" {
			name = fmt.Sprintf("r%d", i)
		}
		if r.insp.Notable(reg.Value) {
			r.insp.IntrospectNotable(w, name, reg.Value)
		}
	}

	low, high := stackWindow(ec, notableSearchBack, notableSearchFwd)
	for addr := low; addr+ptrSize <= high; addr += ptrSize {
		value, err := memory.ReadPointer(r.mem, addr)
		if err != nil {
			continue
		}
		if r.insp.Notable(value) {
			r.insp.IntrospectNotable(w, fmt.Sprintf("stack@%#x", addr), value)
		}
	}
}
