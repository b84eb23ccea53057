package objruntime

import (
	"encoding/binary"
	"math"

	"github.com/apex/log"

	"github.com/blacktop/crashkit/pkg/jwriter"
	"github.com/blacktop/crashkit/pkg/memory"
)

// DefaultBudget is the number of objects, sub-objects and ivars recorded
// from one notable memory location.
const DefaultBudget = 15

// Field names emitted by introspection.
const (
	fieldAddress       = "address"
	fieldType          = "type"
	fieldClass         = "class"
	fieldValue         = "value"
	fieldIvars         = "ivars"
	fieldFirstObject   = "first_object"
	fieldTaggedPayload = "tagged_payload"
	fieldLastDealloc   = "last_deallocated_obj"
)

// Budget is the shared countdown across one recursive dump. It is the only
// cycle guard: a self-referential graph terminates because the budget runs
// out, not because cycles are detected. Never shared across threads.
type Budget int

// Spend consumes one unit. It reports false once the budget is exhausted.
func (b *Budget) Spend() bool {
	if *b <= 0 {
		return false
	}
	*b--
	return true
}

// Remaining reports how many units are left.
func (b *Budget) Remaining() int { return int(*b) }

// Policy is the per-report introspection configuration, threaded explicitly
// into every call rather than held in package state.
type Policy struct {
	// RestrictedClasses are never expanded: only the class name is
	// recorded, no member content.
	RestrictedClasses []string

	// Builtins maps class names to their specialized rendering. Nil gets
	// DefaultBuiltins.
	Builtins map[string]ClassKind

	// RecentlyFreed, when set, reports the former class of an address that
	// was recently deallocated but is still readable ("" when it was not).
	RecentlyFreed func(addr uint64) string
}

func (p *Policy) restricted(name string) bool {
	for _, r := range p.RestrictedClasses {
		if r == name {
			return true
		}
	}
	return false
}

// DefaultBuiltins is the well-known class table of the inspected runtime.
func DefaultBuiltins() map[string]ClassKind {
	return map[string]ClassKind{
		"NSString":        ClassString,
		"NSMutableString": ClassString,
		"__NSCFString":    ClassString,
		"NSURL":           ClassURL,
		"NSDate":          ClassDate,
		"__NSDate":        ClassDate,
		"NSNumber":        ClassNumber,
		"__NSCFNumber":    ClassNumber,
		"__NSCFBoolean":   ClassNumber,
		"NSArray":         ClassArray,
		"NSMutableArray":  ClassArray,
		"__NSArrayI":      ClassArray,
		"__NSArrayM":      ClassArray,
		"NSDictionary":    ClassDictionary,
		"__NSDictionaryI": ClassDictionary,
		"__NSDictionaryM": ClassDictionary,
		"NSException":     ClassException,
	}
}

// Notable reports whether addr references something worth expanding: a
// recognizable object, class, closure, raw string, or a recently freed
// reference. Zero, invalid tagged pointers and opaque memory are not
// notable and are skipped entirely.
func (in *Inspector) Notable(addr uint64) bool {
	if addr == 0 {
		return false
	}
	if isTagged(addr) && !validTagged(addr) {
		return false
	}
	if in.pol.RecentlyFreed != nil && in.pol.RecentlyFreed(addr) != "" {
		return true
	}
	switch in.Classify(addr) {
	case KindNull, KindInvalid, KindUnknown:
		return false
	default:
		return true
	}
}

// IntrospectNotable dumps addr only if it passes the Notable check, with a
// fresh default budget.
func (in *Inspector) IntrospectNotable(w *jwriter.FieldWriter, key string, addr uint64) {
	if !in.Notable(addr) {
		return
	}
	budget := Budget(DefaultBudget)
	in.Introspect(w, key, addr, &budget)
}

// Introspect emits one object node for addr: its address, classification
// and, depending on the class, either a specialized rendering or a
// recursive ivar dump. The shared budget bounds the whole traversal.
func (in *Inspector) Introspect(w *jwriter.FieldWriter, key string, addr uint64, budget *Budget) {
	budget.Spend()
	w.BeginObject(key)
	w.AddUint(fieldAddress, addr)
	if in.pol.RecentlyFreed != nil {
		if name := in.pol.RecentlyFreed(addr); name != "" {
			w.AddString(fieldLastDealloc, name)
		}
	}
	kind := in.Classify(addr)
	switch kind {
	case KindNull, KindInvalid, KindUnknown:
		w.AddString(fieldType, kind.String())

	case KindString:
		w.AddString(fieldType, kind.String())
		if s, ok := in.validString(addr); ok {
			w.AddString(fieldValue, s)
		}

	case KindClass:
		w.AddString(fieldType, kind.String())
		if cls, ok := in.readClass(addr); ok {
			w.AddString(fieldClass, cls.name)
		}

	case KindClosure:
		w.AddString(fieldType, kind.String())
		if cls, ok := in.classOf(addr); ok {
			w.AddString(fieldClass, cls.name)
		}

	case KindObject:
		w.AddString(fieldType, kind.String())
		in.introspectObject(w, addr, budget)
	}
	w.End()
}

func (in *Inspector) introspectObject(w *jwriter.FieldWriter, addr uint64, budget *Budget) {
	var name string
	if isTagged(addr) {
		name = taggedClassName(addr)
	} else if cls, ok := in.classOf(addr); ok {
		name = cls.name
	}
	if name != "" {
		w.AddString(fieldClass, name)
	}
	if in.pol.restricted(name) {
		return
	}
	switch in.pol.Builtins[name] {
	case ClassString, ClassURL:
		if s, ok := in.stringContents(addr); ok {
			w.AddString(fieldValue, s)
		}
	case ClassDate, ClassNumber:
		if v, ok := in.floatContents(addr); ok {
			w.AddFloat(fieldValue, v)
		}
	case ClassArray:
		if budget.Remaining() > 0 {
			if first, ok := in.firstArrayElement(addr); ok {
				in.Introspect(w, fieldFirstObject, first, budget)
			}
		}
	default:
		if budget.Remaining() > 0 {
			in.introspectIvars(w, addr, budget)
		}
	}
}

// introspectIvars walks the instance's declared members, decoding each per
// its type code. Pointer-typed members recurse through Introspect.
func (in *Inspector) introspectIvars(w *jwriter.FieldWriter, addr uint64, budget *Budget) {
	w.BeginObject(fieldIvars)
	defer w.End()

	if isTagged(addr) {
		w.AddInt(fieldTaggedPayload, int64(taggedPayload(addr)))
		return
	}
	cls, ok := in.classOf(addr)
	if !ok {
		return
	}
	for i := uint32(0); i < cls.count; i++ {
		if !budget.Spend() {
			return
		}
		var desc [ivarDescSize]byte
		if err := in.mem.ReadAt(desc[:], cls.ivars+uint64(i)*ivarDescSize); err != nil {
			return
		}
		namePtr := binary.LittleEndian.Uint64(desc[0:])
		offset := binary.LittleEndian.Uint32(desc[8:])
		code := binary.LittleEndian.Uint32(desc[12:])
		name, ok := in.readCString(namePtr, classNameMaxLen)
		if !ok {
			continue
		}
		in.emitIvar(w, name, addr+uint64(offset), code, budget)
	}
}

func (in *Inspector) emitIvar(w *jwriter.FieldWriter, name string, at uint64, code uint32, budget *Budget) {
	switch code {
	case TypeInt8:
		if v, ok := in.readUint(at, 1); ok {
			w.AddInt(name, int64(int8(v)))
		}
	case TypeInt16:
		if v, ok := in.readUint(at, 2); ok {
			w.AddInt(name, int64(int16(v)))
		}
	case TypeInt, TypeInt32:
		if v, ok := in.readUint(at, 4); ok {
			w.AddInt(name, int64(int32(v)))
		}
	case TypeInt64:
		if v, ok := in.readUint(at, 8); ok {
			w.AddInt(name, int64(v))
		}
	case TypeUint8:
		if v, ok := in.readUint(at, 1); ok {
			w.AddUint(name, v)
		}
	case TypeUint16:
		if v, ok := in.readUint(at, 2); ok {
			w.AddUint(name, v)
		}
	case TypeUint, TypeUint32:
		if v, ok := in.readUint(at, 4); ok {
			w.AddUint(name, v)
		}
	case TypeUint64:
		if v, ok := in.readUint(at, 8); ok {
			w.AddUint(name, v)
		}
	case TypeFloat:
		if v, ok := in.readUint(at, 4); ok {
			w.AddFloat(name, float64(math.Float32frombits(uint32(v))))
		}
	case TypeDouble:
		if v, ok := in.readUint(at, 8); ok {
			w.AddFloat(name, math.Float64frombits(v))
		}
	case TypeBool:
		if v, ok := in.readUint(at, 1); ok {
			w.AddBool(name, v != 0)
		}
	case TypeCString, TypeObject, TypeClass, TypeSel:
		if ptr, err := memory.ReadPointer(in.mem, at); err == nil {
			in.Introspect(w, name, ptr, budget)
		}
	default:
		log.WithFields(log.Fields{"ivar": name, "code": code}).Debug("unknown ivar type code")
	}
}

// readUint reads an unsigned little-endian scalar of 1, 2, 4 or 8 bytes.
func (in *Inspector) readUint(addr uint64, size int) (uint64, bool) {
	var buf [8]byte
	if err := in.mem.ReadAt(buf[:size], addr); err != nil {
		return 0, false
	}
	return binary.LittleEndian.Uint64(buf[:]), true
}
