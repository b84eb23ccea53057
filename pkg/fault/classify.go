package fault

// Classification is the uniform error record every fault kind reduces to.
// A hardware exception fills in the signal side by cross-mapping and vice
// versa, so the report always carries both views.
type Classification struct {
	ExceptionType int64
	Code          int64
	Subcode       int64

	Signal     int
	SignalCode int

	// ExceptionName is the native (language-runtime) exception name, when
	// the fault kind carries one.
	ExceptionName string
	Reason        string
}

// Classify reduces a fault context to the common record. A protection
// failure that coincides with a detected stack overflow is reclassified as
// an invalid-address fault: a stack blasting through its guard pages raises
// a protection failure, but the meaningful answer is that the address was
// beyond the stack.
func Classify(ctx *Context) Classification {
	var c Classification
	c.Reason = ctx.Reason

	switch ctx.Kind {
	case KindDeadlock:
		// No machine-level detail to record.

	case KindHardwareException:
		if ctx.Mach != nil {
			c.ExceptionType = ctx.Mach.Type
			c.Code = ctx.Mach.Code
			c.Subcode = ctx.Mach.Subcode
		}
		if c.Code == KernProtectionFailure && ctx.StackOverflow {
			c.Code = KernInvalidAddress
		}
		c.Signal = SignalForException(c.ExceptionType, c.Code)

	case KindNativeException:
		c.ExceptionType = ExcCrash
		c.Signal = sigAbort
		if ctx.Native != nil {
			c.ExceptionName = ctx.Native.Name
		}

	case KindSignal:
		if ctx.Signal != nil {
			c.Signal = ctx.Signal.Number
			c.SignalCode = ctx.Signal.Code
		}
		c.ExceptionType = ExceptionForSignal(c.Signal)

	case KindUserReported:
		c.ExceptionType = ExcCrash
		c.Signal = sigAbort
	}

	return c
}
