package objruntime

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/blacktop/crashkit/pkg/jwriter"
	"github.com/blacktop/crashkit/pkg/memory"
)

// runtimeImage builds a fake inspected process: a snapshot with class
// descriptors, instances and strings laid out per the runtime ABI.
type runtimeImage struct {
	snap *memory.Snapshot
	next uint64
}

func newRuntimeImage() *runtimeImage {
	return &runtimeImage{snap: memory.NewSnapshot(), next: 0x100000}
}

func (ri *runtimeImage) alloc(size uint64) uint64 {
	addr := ri.next
	// Keep allocations pointer-aligned: the ABI reserves the low bits of
	// addresses for tagged-pointer encoding.
	ri.next = (ri.next + size + 0x100 + 7) &^ 7
	return addr
}

// cstring maps a NUL-terminated name with enough padding for the bounded
// class-name read.
func (ri *runtimeImage) cstring(s string) uint64 {
	buf := make([]byte, len(s)+classNameMaxLen)
	copy(buf, s)
	addr := ri.alloc(uint64(len(buf)))
	ri.snap.Map(addr, buf)
	return addr
}

// rawString maps a printable string readable via the 500-byte probe.
func (ri *runtimeImage) rawString(s string) uint64 {
	buf := make([]byte, stringReadLength+len(s))
	copy(buf, s)
	addr := ri.alloc(uint64(len(buf)))
	ri.snap.Map(addr, buf)
	return addr
}

type ivarDef struct {
	name   string
	offset uint32
	code   uint32
}

func (ri *runtimeImage) class(name string, flags uint32, ivars []ivarDef) uint64 {
	table := make([]byte, len(ivars)*ivarDescSize)
	for i, iv := range ivars {
		binary.LittleEndian.PutUint64(table[i*ivarDescSize:], ri.cstring(iv.name))
		binary.LittleEndian.PutUint32(table[i*ivarDescSize+8:], iv.offset)
		binary.LittleEndian.PutUint32(table[i*ivarDescSize+12:], iv.code)
	}
	tableAddr := ri.alloc(uint64(len(table)))
	ri.snap.Map(tableAddr, table)

	hdr := make([]byte, classHeaderSize)
	binary.LittleEndian.PutUint64(hdr[8:], ri.cstring(name))
	binary.LittleEndian.PutUint64(hdr[16:], tableAddr)
	binary.LittleEndian.PutUint32(hdr[24:], uint32(len(ivars)))
	binary.LittleEndian.PutUint32(hdr[28:], classMagic|flags)
	addr := ri.alloc(classHeaderSize)
	ri.snap.Map(addr, hdr)
	return addr
}

// object maps an instance: class pointer followed by payload bytes.
func (ri *runtimeImage) object(class uint64, payload []byte) uint64 {
	buf := make([]byte, 8+len(payload))
	binary.LittleEndian.PutUint64(buf, class)
	copy(buf[8:], payload)
	addr := ri.alloc(uint64(len(buf)))
	ri.snap.Map(addr, buf)
	return addr
}

func (ri *runtimeImage) inspector(pol Policy) *Inspector {
	return NewInspector(ri.snap, pol)
}

// introspectJSON runs one introspection pass and decodes the result.
func introspectJSON(t *testing.T, in *Inspector, addr uint64, budget Budget) (map[string]any, string) {
	t.Helper()
	var buf bytes.Buffer
	w := jwriter.NewFieldWriter(jwriter.NewEncoder(&buf))
	w.BeginObject("")
	in.Introspect(w, "obj", addr, &budget)
	w.End()
	if err := w.Err(); err != nil {
		t.Fatalf("writer error: %v", err)
	}
	var doc map[string]map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid introspection JSON: %v\n%s", err, buf.String())
	}
	return doc["obj"], buf.String()
}

func TestClassifyNeverFaults(t *testing.T) {
	in := newRuntimeImage().inspector(Policy{})

	tests := []struct {
		name string
		addr uint64
		want Kind
	}{
		{"null", 0, KindNull},
		{"max address", math.MaxUint64 - 1, KindUnknown},
		{"near address-space top", math.MaxUint64 - 100, KindUnknown},
		{"unmapped", 0x500000, KindUnknown},
		{"tagged number", (42 << tagShift) | tagMarker, KindObject},
		{"tagged unknown encoding", (7 << 1) | tagMarker, KindInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := in.Classify(tt.addr); got != tt.want {
				t.Errorf("Classify(%#x) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestClassifyKinds(t *testing.T) {
	ri := newRuntimeImage()
	str := ri.rawString("hello world")
	cls := ri.class("Widget", 0, nil)
	obj := ri.object(cls, nil)
	blkCls := ri.class("Handler", flagClosure, nil)
	blk := ri.object(blkCls, nil)
	in := ri.inspector(Policy{})

	if got := in.Classify(str); got != KindString {
		t.Errorf("raw string: %v", got)
	}
	if got := in.Classify(cls); got != KindClass {
		t.Errorf("class: %v", got)
	}
	if got := in.Classify(obj); got != KindObject {
		t.Errorf("object: %v", got)
	}
	if got := in.Classify(blk); got != KindClosure {
		t.Errorf("closure: %v", got)
	}
}

func TestValidStringRejectsShortAndGarbage(t *testing.T) {
	ri := newRuntimeImage()
	short := ri.rawString("abc") // below the minimum length
	binary := make([]byte, stringReadLength+8)
	binary[0] = 0xfe
	binary[1] = 0xed
	binaryAddr := ri.alloc(uint64(len(binary)))
	ri.snap.Map(binaryAddr, binary)
	in := ri.inspector(Policy{})

	if _, ok := in.validString(short); ok {
		t.Error("3-byte string should not validate")
	}
	if _, ok := in.validString(binaryAddr); ok {
		t.Error("non-printable bytes should not validate")
	}
}

func TestIntrospectScalarIvars(t *testing.T) {
	ri := newRuntimeImage()
	cls := ri.class("Point", 0, []ivarDef{
		{"x", 8, TypeInt64},
		{"y", 16, TypeDouble},
		{"visible", 24, TypeBool},
	})
	payload := make([]byte, 24)
	binary.LittleEndian.PutUint64(payload[0:], uint64(42))
	binary.LittleEndian.PutUint64(payload[8:], math.Float64bits(2.5))
	payload[16] = 1
	obj := ri.object(cls, payload)
	in := ri.inspector(Policy{})

	node, raw := introspectJSON(t, in, obj, DefaultBudget)
	if node["type"] != "object" || node["class"] != "Point" {
		t.Fatalf("node header: %s", raw)
	}
	ivars, ok := node["ivars"].(map[string]any)
	if !ok {
		t.Fatalf("no ivars node: %s", raw)
	}
	if ivars["x"] != float64(42) || ivars["y"] != 2.5 || ivars["visible"] != true {
		t.Errorf("ivar values: %v", ivars)
	}
}

func TestIntrospectBudgetBoundsCycles(t *testing.T) {
	ri := newRuntimeImage()
	cls := ri.class("Node", 0, []ivarDef{{"next", 8, TypeObject}})
	// Self-referential: next points back at the object itself.
	obj := ri.object(cls, make([]byte, 8))
	self := make([]byte, 16)
	binary.LittleEndian.PutUint64(self, cls)
	binary.LittleEndian.PutUint64(self[8:], obj)
	ri.snap.Map(obj, self)
	in := ri.inspector(Policy{})

	for _, budget := range []Budget{1, 3, 7} {
		_, raw := introspectJSON(t, in, obj, budget)
		visits := strings.Count(raw, `"address"`)
		if visits > int(budget)+1 {
			t.Errorf("budget %d: visited %d nodes\n%s", budget, visits, raw)
		}
	}
}

func TestIntrospectRestrictedClass(t *testing.T) {
	ri := newRuntimeImage()
	cls := ri.class("Secret", 0, []ivarDef{{"token", 8, TypeInt64}})
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, 0xdeadbeef)
	obj := ri.object(cls, payload)
	in := ri.inspector(Policy{RestrictedClasses: []string{"Secret"}})

	node, raw := introspectJSON(t, in, obj, DefaultBudget)
	if node["class"] != "Secret" {
		t.Fatalf("class name should still be recorded: %s", raw)
	}
	if _, ok := node["ivars"]; ok {
		t.Errorf("restricted class must not be expanded: %s", raw)
	}
}

func TestIntrospectBuiltins(t *testing.T) {
	ri := newRuntimeImage()

	strCls := ri.class("NSString", 0, nil)
	strPayload := make([]byte, 8+16)
	binary.LittleEndian.PutUint32(strPayload, 5)
	copy(strPayload[8:], "hello")
	strObj := ri.object(strCls, strPayload)

	numCls := ri.class("NSNumber", 0, nil)
	numPayload := make([]byte, 8)
	binary.LittleEndian.PutUint64(numPayload, math.Float64bits(3.25))
	numObj := ri.object(numCls, numPayload)

	in := ri.inspector(Policy{})

	node, raw := introspectJSON(t, in, strObj, DefaultBudget)
	if node["value"] != "hello" {
		t.Errorf("string builtin: %s", raw)
	}
	node, raw = introspectJSON(t, in, numObj, DefaultBudget)
	if node["value"] != 3.25 {
		t.Errorf("number builtin: %s", raw)
	}
}

func TestIntrospectTagged(t *testing.T) {
	in := newRuntimeImage().inspector(Policy{})

	addr := (uint64(99) << tagShift) | tagMarker // tagged number 99
	node, raw := introspectJSON(t, in, addr, DefaultBudget)
	if node["class"] != "NSNumber" {
		t.Errorf("tagged number class: %s", raw)
	}
	if node["value"] != float64(99) {
		t.Errorf("tagged number value: %s", raw)
	}

	// Without the builtin table the raw payload is dumped instead.
	bare := newRuntimeImage().inspector(Policy{Builtins: map[string]ClassKind{}})
	node, raw = introspectJSON(t, bare, addr, DefaultBudget)
	ivars, _ := node["ivars"].(map[string]any)
	if ivars == nil || ivars["tagged_payload"] != float64(99) {
		t.Errorf("tagged payload: %s", raw)
	}
}

func TestNotable(t *testing.T) {
	ri := newRuntimeImage()
	str := ri.rawString("interesting string")
	cls := ri.class("Widget", 0, nil)
	obj := ri.object(cls, nil)

	freed := map[uint64]string{0x777000: "Widget"}
	in := ri.inspector(Policy{
		RecentlyFreed: func(addr uint64) string { return freed[addr] },
	})

	tests := []struct {
		name string
		addr uint64
		want bool
	}{
		{"zero", 0, false},
		{"unmapped", 0x600000, false},
		{"invalid tagged", (7 << 1) | tagMarker, false},
		{"string", str, true},
		{"object", obj, true},
		{"recently freed", 0x777000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := in.Notable(tt.addr); got != tt.want {
				t.Errorf("Notable(%#x) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestIntrospectRecentlyFreedMarker(t *testing.T) {
	ri := newRuntimeImage()
	in := ri.inspector(Policy{
		RecentlyFreed: func(addr uint64) string {
			if addr == 0x888000 {
				return "Widget"
			}
			return ""
		},
	})

	var buf bytes.Buffer
	w := jwriter.NewFieldWriter(jwriter.NewEncoder(&buf))
	w.BeginObject("")
	in.IntrospectNotable(w, "obj", 0x888000)
	w.End()
	if err := w.Err(); err != nil {
		t.Fatal(err)
	}
	var doc map[string]map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, buf.String())
	}
	if doc["obj"]["last_deallocated_obj"] != "Widget" {
		t.Errorf("freed marker missing: %s", buf.String())
	}
}
