// Package report assembles crash report documents. It drives the safe memory
// layer, the image enumerator, the backtrace capturer and the object
// inspector through two single-pass flows: the standard report, and the
// minimal recrash report written when a previous standard pass itself died.
package report

import (
	"os"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/blacktop/crashkit/pkg/backtrace"
	"github.com/blacktop/crashkit/pkg/fault"
	"github.com/blacktop/crashkit/pkg/image"
	"github.com/blacktop/crashkit/pkg/jwriter"
	"github.com/blacktop/crashkit/pkg/memory"
	"github.com/blacktop/crashkit/pkg/objruntime"
)

// recrashTempSuffix replaces the destination's extension while the prior
// report is being embedded, then the temp file is removed.
const recrashTempSuffix = ".old"

// MemoryStats are the process-wide memory totals recorded in the system
// section.
type MemoryStats struct {
	Usable uint64
	Free   uint64
}

// AppStats is the application usage record the monitor layer accumulates
// between crashes.
type AppStats struct {
	Active                    bool
	InForeground              bool
	LaunchesSinceCrash        int
	SessionsSinceCrash        int
	ActiveTimeSinceLaunch     float64
	BackgroundTimeSinceLaunch float64
}

// Config is the per-report configuration bundle supplied by the monitor
// layer before a flow starts. It is read-only during report generation.
type Config struct {
	ReportID    string
	ProcessName string

	// SystemInfo and UserInfo are caller-supplied pre-formed documents,
	// embedded verbatim. Nil gets an empty placeholder.
	SystemInfo []byte
	UserInfo   []byte

	// AppStats is the application usage record for the system section, or
	// nil.
	AppStats *AppStats

	// Introspect enables object introspection of notable addresses.
	Introspect        bool
	RestrictedClasses []string

	SearchThreadNames bool
	SearchQueueNames  bool

	// OnCrashNotify, when set, is invoked inside the user section so the
	// application can append its own fields.
	OnCrashNotify func(*jwriter.FieldWriter)

	// MaxFrames caps each backtrace. Zero means the engine default.
	MaxFrames int

	// Memory overrides the OS-probed totals, mainly for tests.
	Memory *MemoryStats

	// LastDeallocatedException, when nonzero, is the address of the most
	// recently torn down exception object, introspected into the process
	// section.
	LastDeallocatedException uint64
}

// Reporter binds one configuration to the faulted process's memory and
// loaded modules. One Reporter serves one fault; flows on it are
// single-threaded and non-reentrant.
type Reporter struct {
	cfg    Config
	mem    memory.Reader
	images []*image.Image
	sym    *backtrace.Symbolicator
	insp   *objruntime.Inspector

	stackOverflow bool
}

// New builds a Reporter over mem, enumerating mods once up front.
func New(cfg Config, mem memory.Reader, mods []image.Module) *Reporter {
	if cfg.MaxFrames <= 0 {
		cfg.MaxFrames = backtrace.MaxFrames
	}
	r := &Reporter{
		cfg:    cfg,
		mem:    mem,
		images: image.Enumerate(mem, mods),
	}
	r.sym = backtrace.NewSymbolicator(r.images)
	if cfg.Introspect {
		r.insp = objruntime.NewInspector(mem, objruntime.Policy{
			RestrictedClasses: cfg.RestrictedClasses,
		})
	}
	return r
}

// Images exposes the enumerated module list, mainly for the console summary.
func (r *Reporter) Images() []*image.Image { return r.images }

// WriteStandard writes the full report document to path. The destination
// must not already exist. A write failure aborts the flow; the caller may
// then invoke WriteRecrash against the partial file.
func (r *Reporter) WriteStandard(path string, ctx *fault.Context, threads []*fault.ExecutionContext) error {
	bw, err := jwriter.Create(path)
	if err != nil {
		return err
	}
	defer bw.Close()

	r.stackOverflow = ctx.StackOverflow
	if len(threads) == 0 && ctx.Offending != nil {
		threads = []*fault.ExecutionContext{ctx.Offending}
	}

	enc := jwriter.NewEncoder(bw)
	w := jwriter.NewFieldWriter(enc)

	w.BeginObject("")

	r.writeReportInfo(w, typeStandard)
	flush(w, bw)

	r.writeImages(w)
	flush(w, bw)

	r.writeProcess(w)
	flush(w, bw)

	r.writeSystem(w)
	flush(w, bw)

	w.BeginObject(fieldCrash)
	r.writeError(w, ctx)
	r.writeAllThreads(w, threads)
	w.End()
	flush(w, bw)

	w.BeginObject(fieldUser)
	if r.cfg.UserInfo != nil {
		w.AddJSON(fieldContents, r.cfg.UserInfo)
	}
	if r.cfg.OnCrashNotify != nil {
		r.cfg.OnCrashNotify(w)
	}
	w.End()

	w.End()
	if err := w.Err(); err != nil {
		return errors.Wrap(err, "standard report flow failed")
	}
	return bw.Close()
}

// WriteRecrash replaces the partial report at path with a minimal document
// that embeds the prior file's raw bytes. Only the faulting thread is
// recorded and no memory scanning is done, so the recovery path cannot
// repeat whatever killed the first pass.
func (r *Reporter) WriteRecrash(path string, ctx *fault.Context) error {
	tmp := swapSuffix(path, recrashTempSuffix)
	if err := os.Rename(path, tmp); err != nil {
		return errors.Wrap(err, "could not set aside prior report")
	}

	bw, err := jwriter.Create(path)
	if err != nil {
		return err
	}
	defer bw.Close()

	r.stackOverflow = ctx.StackOverflow

	enc := jwriter.NewEncoder(bw)
	w := jwriter.NewFieldWriter(enc)

	w.BeginObject("")

	w.AddJSONFile(fieldRecrash, tmp)
	flush(w, bw)
	if err := os.Remove(tmp); err != nil {
		log.WithError(err).WithField("path", tmp).Error("could not remove prior report")
	}

	r.writeReportInfo(w, typeMinimal)
	flush(w, bw)

	w.BeginObject(fieldCrash)
	r.writeError(w, ctx)
	if ctx.Offending != nil {
		r.writeThread(w, fieldCrashedThread, ctx.Offending, false)
	}
	w.End()

	w.End()
	if err := w.Err(); err != nil {
		return errors.Wrap(err, "recrash report flow failed")
	}
	return bw.Close()
}

func (r *Reporter) writeReportInfo(w *jwriter.FieldWriter, reportType string) {
	w.BeginObject(fieldReport)
	w.AddString(fieldVersion, Version)
	w.AddString(fieldID, r.cfg.ReportID)
	w.AddString(fieldProcessName, r.cfg.ProcessName)
	w.AddInt(fieldTimestamp, time.Now().Unix())
	w.AddString(fieldType, reportType)
	w.End()
}

func (r *Reporter) writeImages(w *jwriter.FieldWriter) {
	w.BeginArray(fieldBinaryImages)
	for _, img := range r.images {
		w.BeginObject("")
		w.AddUint(fieldImageAddr, img.Base)
		w.AddUint(fieldImageVMAddr, img.TextAddr)
		w.AddUint(fieldImageSize, img.TextSize)
		w.AddString(fieldName, img.Path)
		w.AddUUID(fieldUUID, img.UUID)
		w.AddUint(fieldCPUType, uint64(img.CPUType))
		w.AddUint(fieldCPUSubtype, uint64(img.CPUSubType))
		w.End()
	}
	w.End()
}

func (r *Reporter) writeProcess(w *jwriter.FieldWriter) {
	w.BeginObject(fieldProcess)
	if addr := r.cfg.LastDeallocatedException; addr != 0 && r.insp != nil {
		r.insp.IntrospectNotable(w, fieldLastException, addr)
	}
	w.End()
}

func (r *Reporter) writeSystem(w *jwriter.FieldWriter) {
	if r.cfg.SystemInfo != nil {
		w.AddJSON(fieldSystem, r.cfg.SystemInfo)
	} else {
		w.BeginObject(fieldSystem)
		w.End()
	}

	w.BeginObject(fieldSystemAtomic)
	mem := r.cfg.Memory
	if mem == nil {
		mem = probeMemory()
	}
	if mem != nil {
		w.BeginObject(fieldMemory)
		w.AddUint(fieldUsable, mem.Usable)
		w.AddUint(fieldFree, mem.Free)
		w.End()
	}
	if st := r.cfg.AppStats; st != nil {
		w.BeginObject(fieldAppStats)
		w.AddBool(fieldAppActive, st.Active)
		w.AddBool(fieldAppInForeground, st.InForeground)
		w.AddInt(fieldLaunchesSinceCrash, int64(st.LaunchesSinceCrash))
		w.AddInt(fieldSessionsSinceCrash, int64(st.SessionsSinceCrash))
		w.AddFloat(fieldActiveTime, st.ActiveTimeSinceLaunch)
		w.AddFloat(fieldBackgroundTime, st.BackgroundTimeSinceLaunch)
		w.End()
	}
	w.End()
}

// flush pushes the completed section to the OS so a secondary fault loses at
// most one section.
func flush(w *jwriter.FieldWriter, bw *jwriter.BufferedWriter) {
	if w.Err() != nil {
		return
	}
	if err := bw.Flush(); err != nil {
		log.WithError(err).Error("report section flush failed")
	}
}

// swapSuffix replaces path's extension with suffix, or appends it when the
// path has none.
func swapSuffix(path, suffix string) string {
	if idx := strings.LastIndexByte(path, '.'); idx > strings.LastIndexByte(path, '/') {
		return path[:idx] + suffix
	}
	return path + suffix
}
