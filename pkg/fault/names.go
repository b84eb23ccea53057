package fault

import (
	"golang.org/x/sys/unix"
)

var sigAbort = int(unix.SIGABRT)

// Machine exception types, numbered as the kernel delivers them.
const (
	ExcBadAccess      = 1  // could not access memory
	ExcBadInstruction = 2  // illegal or undefined instruction
	ExcArithmetic     = 3  // arithmetic trap (e.g. divide by zero)
	ExcEmulation      = 4
	ExcSoftware       = 5
	ExcBreakpoint     = 6
	ExcSyscall        = 7
	ExcMachSyscall    = 8
	ExcRPCAlert       = 9
	ExcCrash          = 10 // abnormal process exit
	ExcResource       = 11
	ExcGuard          = 12
)

// Kernel return codes reported in the exception's code slot.
const (
	KernSuccess           = 0
	KernInvalidAddress    = 1
	KernProtectionFailure = 2
	KernNoSpace           = 3
	KernInvalidArgument   = 4
	KernFailure           = 5
	KernMemoryFailure     = 10
	KernMemoryError       = 11
	KernAborted           = 14
	KernOperationTimedOut = 49
)

var excNames = map[int64]string{
	ExcBadAccess:      "EXC_BAD_ACCESS",
	ExcBadInstruction: "EXC_BAD_INSTRUCTION",
	ExcArithmetic:     "EXC_ARITHMETIC",
	ExcEmulation:      "EXC_EMULATION",
	ExcSoftware:       "EXC_SOFTWARE",
	ExcBreakpoint:     "EXC_BREAKPOINT",
	ExcSyscall:        "EXC_SYSCALL",
	ExcMachSyscall:    "EXC_MACH_SYSCALL",
	ExcRPCAlert:       "EXC_RPC_ALERT",
	ExcCrash:          "EXC_CRASH",
	ExcResource:       "EXC_RESOURCE",
	ExcGuard:          "EXC_GUARD",
}

// ExceptionName resolves a machine exception type to its canonical name, or
// "" if the type is unknown.
func ExceptionName(excType int64) string {
	return excNames[excType]
}

var kernReturnNames = map[int64]string{
	KernSuccess:           "KERN_SUCCESS",
	KernInvalidAddress:    "KERN_INVALID_ADDRESS",
	KernProtectionFailure: "KERN_PROTECTION_FAILURE",
	KernNoSpace:           "KERN_NO_SPACE",
	KernInvalidArgument:   "KERN_INVALID_ARGUMENT",
	KernFailure:           "KERN_FAILURE",
	KernMemoryFailure:     "KERN_MEMORY_FAILURE",
	KernMemoryError:       "KERN_MEMORY_ERROR",
	KernAborted:           "KERN_ABORTED",
	KernOperationTimedOut: "KERN_OPERATION_TIMED_OUT",
}

// KernReturnName resolves an exception code to its kernel return code name,
// or "" if unknown.
func KernReturnName(code int64) string {
	return kernReturnNames[code]
}

// SignalName resolves a signal number ("SIGSEGV", ...), or "" if unknown.
func SignalName(sig int) string {
	if sig <= 0 {
		return ""
	}
	return unix.SignalName(unix.Signal(sig))
}

// Signal si_code values we can name. Generic codes apply to any signal;
// the rest are per-signal.
var genericSigCodeNames = map[int]string{
	0: "SI_USER",
	// SI_QUEUE and friends are negative on Linux.
	-1: "SI_QUEUE",
	-2: "SI_TIMER",
	-4: "SI_ASYNCIO",
	-6: "SI_TKILL",
}

var sigCodeNames = map[int]map[int]string{
	int(unix.SIGILL): {
		1: "ILL_ILLOPC",
		2: "ILL_ILLOPN",
		3: "ILL_ILLADR",
		4: "ILL_ILLTRP",
		5: "ILL_PRVOPC",
		6: "ILL_PRVREG",
		7: "ILL_COPROC",
		8: "ILL_BADSTK",
	},
	int(unix.SIGFPE): {
		1: "FPE_INTDIV",
		2: "FPE_INTOVF",
		3: "FPE_FLTDIV",
		4: "FPE_FLTOVF",
		5: "FPE_FLTUND",
		6: "FPE_FLTRES",
		7: "FPE_FLTINV",
		8: "FPE_FLTSUB",
	},
	int(unix.SIGSEGV): {
		1: "SEGV_MAPERR",
		2: "SEGV_ACCERR",
	},
	int(unix.SIGBUS): {
		1: "BUS_ADRALN",
		2: "BUS_ADRERR",
		3: "BUS_OBJERR",
	},
	int(unix.SIGTRAP): {
		1: "TRAP_BRKPT",
		2: "TRAP_TRACE",
	},
}

// SignalCodeName resolves a signal's si_code to a name, or "" if unknown.
func SignalCodeName(sig, code int) string {
	if name, ok := sigCodeNames[sig][code]; ok {
		return name
	}
	return genericSigCodeNames[code]
}

// SignalForException maps a machine exception to the signal the kernel
// would have delivered for it.
func SignalForException(excType, code int64) int {
	switch excType {
	case ExcBadAccess:
		if code == KernInvalidAddress {
			return int(unix.SIGSEGV)
		}
		return int(unix.SIGBUS)
	case ExcBadInstruction:
		return int(unix.SIGILL)
	case ExcArithmetic:
		return int(unix.SIGFPE)
	case ExcBreakpoint:
		return int(unix.SIGTRAP)
	case ExcCrash:
		return int(unix.SIGABRT)
	default:
		return 0
	}
}

// ExceptionForSignal maps a delivered signal to the machine exception type
// that produces it.
func ExceptionForSignal(sig int) int64 {
	switch sig {
	case int(unix.SIGSEGV):
		return ExcBadAccess
	case int(unix.SIGBUS):
		return ExcBadAccess
	case int(unix.SIGILL):
		return ExcBadInstruction
	case int(unix.SIGFPE):
		return ExcArithmetic
	case int(unix.SIGTRAP):
		return ExcBreakpoint
	case int(unix.SIGABRT):
		return ExcCrash
	case int(unix.SIGSYS):
		return ExcSyscall
	default:
		return 0
	}
}
