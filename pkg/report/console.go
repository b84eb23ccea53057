package report

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/blacktop/crashkit/internal/colors"
	"github.com/blacktop/crashkit/internal/utils"
	"github.com/blacktop/crashkit/pkg/backtrace"
	"github.com/blacktop/crashkit/pkg/fault"
)

// consoleFrameCap bounds the console backtrace; the full trace still goes
// into the report document.
const consoleFrameCap = 40

// LogFault prints a human-readable summary of the fault and the offending
// thread's backtrace to stderr. It is a diagnostic convenience, not part of
// the document format.
func (r *Reporter) LogFault(ctx *fault.Context) {
	r.FprintFault(os.Stderr, ctx)
}

// FprintFault writes the fault summary to w.
func (r *Reporter) FprintFault(w io.Writer, ctx *fault.Context) {
	cls := fault.Classify(ctx)

	fmt.Fprintf(w, "%s %s\n", colors.Bold().Sprint("Process:"), r.cfg.ProcessName)
	fmt.Fprintf(w, "%s %s (%s)\n",
		colors.Bold().Sprint("Exception:"),
		colors.Red().Sprint(fault.ExceptionName(cls.ExceptionType)),
		fault.SignalName(cls.Signal))
	if name := fault.KernReturnName(cls.Code); name != "" {
		fmt.Fprintf(w, "%s %s at %#x\n", colors.Bold().Sprint("Code:"), name, ctx.Address)
	}
	if cls.Reason != "" {
		fmt.Fprintf(w, "%s %s\n", colors.Bold().Sprint("Reason:"), cls.Reason)
	}
	if mem := r.cfg.Memory; mem != nil {
		fmt.Fprintf(w, "%s %s free of %s\n", colors.Bold().Sprint("Memory:"),
			humanize.Bytes(mem.Free), humanize.Bytes(mem.Usable))
	}

	if ctx.Offending == nil {
		return
	}
	frames, skipped := backtrace.Capture(r.mem, ctx.Offending, consoleFrameCap)
	if len(frames) > consoleFrameCap {
		skipped += len(frames) - consoleFrameCap
		frames = frames[:consoleFrameCap]
	}
	fmt.Fprintln(w)
	for i, f := range r.sym.ResolveAll(frames) {
		objName := f.ObjectName
		if objName == "" {
			objName = "???"
		}
		symName := f.SymbolName
		base := f.SymbolAddr
		if symName == "" {
			symName = objName
			base = f.ObjectAddr
		}
		if base == 0 {
			base = f.InstructionAddr
		}
		fmt.Fprintf(w, "%-4d%-31s %s %s + %d\n",
			i,
			objName,
			colors.Faint().Sprintf("0x%016x", f.InstructionAddr),
			colors.Cyan().Sprint(symName),
			f.InstructionAddr-base)
	}
	if skipped > 0 {
		fmt.Fprintf(w, "    (%d older frames skipped)\n", skipped)
	}

	low, high := stackWindow(ctx.Offending, stackDumpPushed, stackDumpPopped)
	buf := make([]byte, high-low)
	if err := r.mem.ReadAt(buf, low); err == nil {
		fmt.Fprintf(w, "\n%s\n", colors.Bold().Sprint("Stack:"))
		fmt.Fprint(w, utils.HexDump(buf, low))
	}
}
