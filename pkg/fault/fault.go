// Package fault models the single fatal event being reported: what kind of
// fault it was, where it happened, and the execution state of the threads
// that were running when it did. Values here are captured by the monitor
// layer and borrowed read-only by the report engine.
package fault

import "encoding/json"

// Kind is the fault taxonomy. Exactly one kind applies per report.
type Kind int

const (
	KindUnknown Kind = iota
	// KindSignal is a POSIX signal delivered to the process.
	KindSignal
	// KindHardwareException is a machine-level exception (bad access,
	// illegal instruction, arithmetic trap).
	KindHardwareException
	// KindNativeException is an uncaught language-runtime exception.
	KindNativeException
	// KindUserReported is an exception handed to the engine by application
	// code rather than detected by a monitor.
	KindUserReported
	// KindDeadlock is a watchdog-detected deadlock of the main thread.
	KindDeadlock
)

func (k Kind) String() string {
	switch k {
	case KindSignal:
		return "signal"
	case KindHardwareException:
		return "mach"
	case KindNativeException:
		return "native_exception"
	case KindUserReported:
		return "user"
	case KindDeadlock:
		return "deadlock"
	default:
		return "unknown"
	}
}

// Register is one named machine register slot.
type Register struct {
	Name  string
	Value uint64
}

// ExecutionContext is a snapshot of one thread's machine state. The
// offending thread's context is captured at fault time by the monitor; the
// rest are captured on demand while the report is being written.
type ExecutionContext struct {
	ThreadIndex int
	ThreadName  string
	QueueName   string

	// Crashed marks the offending thread; Reporting marks the thread that
	// is generating this report.
	Crashed   bool
	Reporting bool

	InstructionPointer uint64
	StackPointer       uint64
	FramePointer       uint64
	// StackGrowsDown is true on every architecture we currently capture,
	// but the stack dump math is direction-aware either way.
	StackGrowsDown bool

	Registers          []Register
	ExceptionRegisters []Register

	// CustomTrace, when non-nil, is an externally supplied backtrace
	// (e.g. from a language exception object) used verbatim instead of
	// walking the native stack.
	CustomTrace []uint64
}

// StackDirection returns +1 if the stack grows toward higher addresses,
// -1 if it grows down.
func (ec *ExecutionContext) StackDirection() int {
	if ec.StackGrowsDown {
		return -1
	}
	return 1
}

// HardwareException carries the machine exception triple as delivered by
// the kernel.
type HardwareException struct {
	Type    int64
	Code    int64
	Subcode int64
}

// SignalInfo carries the delivered signal number and its si_code.
type SignalInfo struct {
	Number int
	Code   int
}

// NativeException describes an uncaught runtime exception.
type NativeException struct {
	Name string
}

// UserException describes an application-reported exception. Trace is a
// caller-supplied pre-formed backtrace document embedded verbatim.
type UserException struct {
	Name       string
	Language   string
	LineOfCode string
	Trace      json.RawMessage
}

// Context is the full description of the fault being reported. It is
// immutable for the duration of report generation.
type Context struct {
	Kind    Kind
	Address uint64
	Reason  string

	// StackOverflow is set when the monitor determined that the offending
	// thread blew through its stack guard.
	StackOverflow bool

	Offending *ExecutionContext

	Mach   *HardwareException
	Signal *SignalInfo
	Native *NativeException
	User   *UserException
}
