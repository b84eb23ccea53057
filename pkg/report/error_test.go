package report

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/blacktop/crashkit/pkg/fault"
	"github.com/blacktop/crashkit/pkg/jwriter"
	"github.com/blacktop/crashkit/pkg/memory"
)

func errorSection(t *testing.T, rep *Reporter, ctx *fault.Context) map[string]any {
	t.Helper()
	var out bytes.Buffer
	w := jwriter.NewFieldWriter(jwriter.NewEncoder(&out))
	w.BeginObject("")
	rep.writeError(w, ctx)
	w.End()
	if err := w.Err(); err != nil {
		t.Fatal(err)
	}
	var doc map[string]map[string]any
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, out.String())
	}
	return doc["error"]
}

func TestWriteErrorUserReported(t *testing.T) {
	// A printable region the reason string points into.
	snap := memory.NewSnapshot()
	region := make([]byte, 520)
	copy(region, "user visible diagnostic text")
	snap.Map(0xcafe000, region)

	rep := New(Config{Introspect: true}, snap, nil)
	errSec := errorSection(t, rep, &fault.Context{
		Kind:   fault.KindUserReported,
		Reason: "assertion thrown near 0xcafe000",
		User: &fault.UserException{
			Name:       "AssertionFailure",
			Language:   "js",
			LineOfCode: "42",
			Trace:      json.RawMessage(`["frameA","frameB"]`),
		},
	})

	if errSec["type"] != "user" {
		t.Errorf("type: %v", errSec["type"])
	}
	user, ok := errSec["user_reported"].(map[string]any)
	if !ok {
		t.Fatalf("missing user_reported: %v", errSec)
	}
	if user["name"] != "AssertionFailure" || user["language"] != "js" || user["line_of_code"] != "42" {
		t.Errorf("user fields: %v", user)
	}
	trace, ok := user["backtrace"].([]any)
	if !ok || len(trace) != 2 || trace[0] != "frameA" {
		t.Errorf("custom trace not embedded verbatim: %v", user["backtrace"])
	}

	ref, ok := errSec["referenced_object"].(map[string]any)
	if !ok {
		t.Fatalf("hex address in reason should be introspected: %v", errSec)
	}
	if ref["type"] != "string" || ref["value"] != "user visible diagnostic text" {
		t.Errorf("referenced object: %v", ref)
	}
}

func TestWriteErrorNativeException(t *testing.T) {
	rep := New(Config{}, memory.NewSnapshot(), nil)
	errSec := errorSection(t, rep, &fault.Context{
		Kind:   fault.KindNativeException,
		Reason: "unhandled RangeException",
		Native: &fault.NativeException{Name: "RangeException"},
	})

	if errSec["type"] != "native_exception" {
		t.Errorf("type: %v", errSec["type"])
	}
	native, ok := errSec["native_exception"].(map[string]any)
	if !ok || native["name"] != "RangeException" {
		t.Errorf("native exception: %v", errSec)
	}
	if _, ok := errSec["referenced_object"]; ok {
		t.Error("introspection disabled, nothing should be dumped")
	}
	mach, _ := errSec["mach"].(map[string]any)
	if mach["exception_name"] != "EXC_CRASH" {
		t.Errorf("native exceptions report as EXC_CRASH: %v", mach)
	}
}
