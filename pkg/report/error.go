package report

import (
	"github.com/blacktop/crashkit/internal/utils"
	"github.com/blacktop/crashkit/pkg/fault"
	"github.com/blacktop/crashkit/pkg/jwriter"
)

// writeError emits the crash.error section: the cross-mapped machine and
// signal views of the fault, plus the kind-specific detail object.
func (r *Reporter) writeError(w *jwriter.FieldWriter, ctx *fault.Context) {
	cls := fault.Classify(ctx)

	w.BeginObject(fieldError)
	defer w.End()

	w.BeginObject(fieldMach)
	w.AddInt(fieldException, cls.ExceptionType)
	if name := fault.ExceptionName(cls.ExceptionType); name != "" {
		w.AddString(fieldExceptionName, name)
	}
	w.AddInt(fieldCode, cls.Code)
	if name := fault.KernReturnName(cls.Code); name != "" {
		w.AddString(fieldCodeName, name)
	}
	w.AddInt(fieldSubcode, cls.Subcode)
	w.End()

	w.BeginObject(fieldSignal)
	w.AddInt(fieldSignal, int64(cls.Signal))
	if name := fault.SignalName(cls.Signal); name != "" {
		w.AddString(fieldName, name)
	}
	w.AddInt(fieldCode, int64(cls.SignalCode))
	if name := fault.SignalCodeName(cls.Signal, cls.SignalCode); name != "" {
		w.AddString(fieldCodeName, name)
	}
	w.End()

	w.AddUint(fieldAddress, ctx.Address)
	if cls.Reason != "" {
		w.AddString(fieldReason, cls.Reason)
	}

	switch ctx.Kind {
	case fault.KindNativeException:
		if ctx.Native != nil {
			w.BeginObject(fieldNativeExc)
			w.AddString(fieldName, ctx.Native.Name)
			w.End()
		}
		r.writeReferencedObject(w, cls.Reason)

	case fault.KindUserReported:
		if ctx.User != nil {
			w.BeginObject(fieldUserReported)
			w.AddString(fieldName, ctx.User.Name)
			if ctx.User.Language != "" {
				w.AddString(fieldLanguage, ctx.User.Language)
			}
			if ctx.User.LineOfCode != "" {
				w.AddString(fieldLineOfCode, ctx.User.LineOfCode)
			}
			if ctx.User.Trace != nil {
				w.AddJSON(fieldBacktrace, ctx.User.Trace)
			}
			w.End()
		}
		r.writeReferencedObject(w, cls.Reason)
	}

	w.AddString(fieldType, ctx.Kind.String())
}

// writeReferencedObject introspects an address mentioned in the reason text.
// Exception messages frequently embed the offending pointer ("... sent to
// instance 0x7f8a..."); dumping that object is often the whole diagnosis.
func (r *Reporter) writeReferencedObject(w *jwriter.FieldWriter, reason string) {
	if !r.cfg.Introspect || r.insp == nil {
		return
	}
	addr, ok := utils.ExtractHexValue(reason)
	if !ok {
		return
	}
	r.insp.IntrospectNotable(w, fieldReferencedObj, addr)
}
