package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/blacktop/crashkit/pkg/fault"
	"github.com/blacktop/crashkit/pkg/jwriter"
	"github.com/blacktop/crashkit/pkg/memory"
)

func segvContext() *fault.Context {
	return &fault.Context{
		Kind:    fault.KindSignal,
		Address: 0xdead0000,
		Signal:  &fault.SignalInfo{Number: int(unix.SIGSEGV), Code: 1},
		Offending: &fault.ExecutionContext{
			ThreadIndex:    0,
			ThreadName:     "main",
			Crashed:        true,
			Reporting:      true,
			StackPointer:   0x7000,
			StackGrowsDown: true,
			CustomTrace:    []uint64{0x1000, 0x1008, 0x1010},
			Registers: []fault.Register{
				{Name: "pc", Value: 0x1000},
				{Name: "", Value: 0x2000},
			},
		},
	}
}

func decodeReport(t *testing.T, path string) map[string]any {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("report is not valid JSON: %v\n%s", err, raw)
	}
	return doc
}

func sub(t *testing.T, doc map[string]any, keys ...string) map[string]any {
	t.Helper()
	for _, k := range keys {
		next, ok := doc[k].(map[string]any)
		if !ok {
			t.Fatalf("missing section %q in %v", k, doc)
		}
		doc = next
	}
	return doc
}

func TestWriteStandardEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")

	var notified bool
	rep := New(Config{
		ReportID:    "test-report-id",
		ProcessName: "victim",
		SystemInfo:  []byte(`{"os":"linux"}`),
		UserInfo:    []byte(`{"session":"abc"}`),
		AppStats: &AppStats{
			Active:                true,
			LaunchesSinceCrash:    3,
			ActiveTimeSinceLaunch: 12,
		},
		Memory:            &MemoryStats{Usable: 1 << 30, Free: 1 << 20},
		SearchThreadNames: true,
		OnCrashNotify: func(w *jwriter.FieldWriter) {
			notified = true
			w.AddString("handler", "ran")
		},
	}, memory.NewSnapshot(), nil)

	ctx := segvContext()
	if err := rep.WriteStandard(path, ctx, nil); err != nil {
		t.Fatalf("WriteStandard: %v", err)
	}
	if !notified {
		t.Error("notification callback did not run")
	}

	doc := decodeReport(t, path)

	info := sub(t, doc, "report")
	if info["version"] != Version || info["type"] != "standard" {
		t.Errorf("report info: %v", info)
	}
	if info["id"] != "test-report-id" || info["process_name"] != "victim" {
		t.Errorf("report identity: %v", info)
	}

	if imgs, ok := doc["binary_images"].([]any); !ok || len(imgs) != 0 {
		t.Errorf("binary_images: %v", doc["binary_images"])
	}

	system := sub(t, doc, "system")
	if system["os"] != "linux" {
		t.Errorf("system info not spliced: %v", system)
	}
	mem := sub(t, doc, "system_atomic", "memory")
	if mem["usable"] != float64(1<<30) || mem["free"] != float64(1<<20) {
		t.Errorf("memory totals: %v", mem)
	}
	stats := sub(t, doc, "system_atomic", "application_stats")
	if stats["application_active"] != true || stats["launches_since_last_crash"] != float64(3) {
		t.Errorf("app stats: %v", stats)
	}
	if stats["active_time_since_launch"] != float64(12) {
		t.Errorf("app stats durations: %v", stats)
	}

	errSec := sub(t, doc, "crash", "error")
	if errSec["address"] != float64(0xdead0000) {
		t.Errorf("address: %v", errSec["address"])
	}
	if errSec["type"] != "signal" {
		t.Errorf("type: %v", errSec["type"])
	}
	sig := sub(t, errSec, "signal")
	if sig["signal"] != float64(unix.SIGSEGV) || sig["name"] != "SIGSEGV" {
		t.Errorf("signal: %v", sig)
	}
	if sig["code_name"] != "SEGV_MAPERR" {
		t.Errorf("si_code name: %v", sig)
	}
	mach := sub(t, errSec, "mach")
	if mach["exception"] != float64(fault.ExcBadAccess) {
		t.Errorf("cross-mapped exception: %v", mach)
	}

	threads, ok := sub(t, doc, "crash")["threads"].([]any)
	if !ok || len(threads) != 1 {
		t.Fatalf("threads: %v", doc)
	}
	th := threads[0].(map[string]any)
	if th["crashed"] != true || th["current_thread"] != true {
		t.Errorf("thread flags: %v", th)
	}
	if th["name"] != "main" {
		t.Errorf("thread name: %v", th["name"])
	}

	bt := sub(t, th, "backtrace")
	contents := bt["contents"].([]any)
	if len(contents) != 3 || bt["skipped"] != float64(0) {
		t.Errorf("backtrace: %v", bt)
	}
	frame := contents[0].(map[string]any)
	if frame["instruction_addr"] != float64(0x1000) {
		t.Errorf("frame: %v", frame)
	}

	regs := sub(t, th, "registers", "basic")
	if regs["pc"] != float64(0x1000) || regs["r1"] != float64(0x2000) {
		t.Errorf("registers (incl synthesized name): %v", regs)
	}

	stack := sub(t, th, "stack")
	if stack["grow_direction"] != "-" || stack["stack_pointer"] != float64(0x7000) {
		t.Errorf("stack header: %v", stack)
	}
	if stack["error"] != "Stack contents not accessible" {
		t.Errorf("unmapped stack should carry the marker: %v", stack)
	}

	user := sub(t, doc, "user")
	if user["handler"] != "ran" {
		t.Errorf("notify fields: %v", user)
	}
	if contents := sub(t, user, "contents"); contents["session"] != "abc" {
		t.Errorf("user info: %v", contents)
	}
}

func TestWriteStandardStackContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")

	snap := memory.NewSnapshot()
	// Map the whole dump window around the stack pointer.
	snap.Map(0x7000-stackDumpPopped*ptrSize, make([]byte, (stackDumpPushed+stackDumpPopped)*ptrSize))

	rep := New(Config{ReportID: "id", ProcessName: "p"}, snap, nil)
	if err := rep.WriteStandard(path, segvContext(), nil); err != nil {
		t.Fatal(err)
	}

	doc := decodeReport(t, path)
	threads := sub(t, doc, "crash")["threads"].([]any)
	stack := sub(t, threads[0].(map[string]any), "stack")
	if _, ok := stack["error"]; ok {
		t.Fatalf("mapped stack should dump contents: %v", stack)
	}
	if stack["contents"] == "" || stack["contents"] == nil {
		t.Error("missing stack contents")
	}
	low := stack["dump_start"].(float64)
	high := stack["dump_end"].(float64)
	if high <= low {
		t.Errorf("window not ascending: [%v, %v]", low, high)
	}
}

func TestWriteStandardRefusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	rep := New(Config{}, memory.NewSnapshot(), nil)
	if err := rep.WriteStandard(path, segvContext(), nil); err == nil {
		t.Error("existing destination must abort the standard flow")
	}
}

func TestWriteRecrash(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")
	prior := []byte(`{"report":{"type":"standard"},"crash":`) // truncated
	if err := os.WriteFile(path, prior, 0o644); err != nil {
		t.Fatal(err)
	}

	rep := New(Config{ReportID: "recrash-id", ProcessName: "victim"}, memory.NewSnapshot(), nil)
	if err := rep.WriteRecrash(path, segvContext()); err != nil {
		t.Fatalf("WriteRecrash: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "report.old")); !os.IsNotExist(err) {
		t.Error("temporary renamed file should be deleted")
	}

	doc := decodeReport(t, path)
	if sub(t, doc, "report")["type"] != "minimal" {
		t.Errorf("recrash report type: %v", doc["report"])
	}

	// The truncated prior document is embedded via the invalid-JSON
	// substitution, raw bytes preserved.
	recrash := sub(t, doc, "recrash_report")
	if recrash["json_data"] != string(prior) {
		t.Errorf("prior bytes not preserved: %v", recrash)
	}

	crashed := sub(t, doc, "crash", "crashed_thread")
	if crashed["crashed"] != true {
		t.Errorf("crashed thread record: %v", crashed)
	}
	if _, ok := crashed["notable_addresses"]; ok {
		t.Error("recrash flow must not scan memory")
	}
}

func TestWriteRecrashValidPrior(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	prior := []byte(`{"report":{"id":"prior"}}`)
	if err := os.WriteFile(path, prior, 0o644); err != nil {
		t.Fatal(err)
	}

	rep := New(Config{ReportID: "recrash-id"}, memory.NewSnapshot(), nil)
	if err := rep.WriteRecrash(path, segvContext()); err != nil {
		t.Fatal(err)
	}

	doc := decodeReport(t, path)
	if sub(t, doc, "recrash_report", "report")["id"] != "prior" {
		t.Errorf("valid prior document should embed verbatim: %v", doc["recrash_report"])
	}
}

func TestSwapSuffix(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/tmp/report.json", "/tmp/report.old"},
		{"/tmp/report", "/tmp/report.old"},
		{"/tmp/v1.2/report", "/tmp/v1.2/report.old"},
	}
	for _, tt := range tests {
		if got := swapSuffix(tt.in, recrashTempSuffix); got != tt.want {
			t.Errorf("swapSuffix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
