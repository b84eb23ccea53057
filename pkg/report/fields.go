package report

// Document version stamped into every report's metadata section.
const Version = "3.1.0"

// Report types.
const (
	typeStandard = "standard"
	typeMinimal  = "minimal"
)

// Top-level and section field names of the report document.
const (
	fieldReport             = "report"
	fieldVersion            = "version"
	fieldID                 = "id"
	fieldProcessName        = "process_name"
	fieldTimestamp          = "timestamp"
	fieldType               = "type"
	fieldBinaryImages       = "binary_images"
	fieldProcess            = "process"
	fieldSystem             = "system"
	fieldSystemAtomic       = "system_atomic"
	fieldMemory             = "memory"
	fieldUsable             = "usable"
	fieldFree               = "free"
	fieldAppStats           = "application_stats"
	fieldAppActive          = "application_active"
	fieldAppInForeground    = "application_in_foreground"
	fieldLaunchesSinceCrash = "launches_since_last_crash"
	fieldSessionsSinceCrash = "sessions_since_last_crash"
	fieldActiveTime         = "active_time_since_launch"
	fieldBackgroundTime     = "background_time_since_launch"
	fieldCrash              = "crash"
	fieldUser               = "user"
	fieldRecrash            = "recrash_report"

	fieldLastException = "last_deallocated_exception"
)

// Binary image fields.
const (
	fieldImageAddr   = "image_addr"
	fieldImageSize   = "image_size"
	fieldName        = "name"
	fieldUUID        = "uuid"
	fieldCPUType     = "cpu_type"
	fieldCPUSubtype  = "cpu_subtype"
	fieldImageVMAddr = "image_vmaddr"
)

// Error section fields.
const (
	fieldError         = "error"
	fieldMach          = "mach"
	fieldException     = "exception"
	fieldExceptionName = "exception_name"
	fieldCode          = "code"
	fieldCodeName      = "code_name"
	fieldSubcode       = "subcode"
	fieldSignal        = "signal"
	fieldAddress       = "address"
	fieldReason        = "reason"
	fieldNativeExc     = "native_exception"
	fieldUserReported  = "user_reported"
	fieldLanguage      = "language"
	fieldLineOfCode    = "line_of_code"
	fieldBacktrace     = "backtrace"
	fieldReferencedObj = "referenced_object"
)

// Thread section fields.
const (
	fieldThreads       = "threads"
	fieldCrashedThread = "crashed_thread"
	fieldIndex         = "index"
	fieldDispatchQueue = "dispatch_queue"
	fieldCrashed       = "crashed"
	fieldCurrentThread = "current_thread"
	fieldContents      = "contents"
	fieldSkipped       = "skipped"
	fieldObjectName    = "object_name"
	fieldObjectAddr    = "object_addr"
	fieldSymbolName    = "symbol_name"
	fieldSymbolAddr    = "symbol_addr"
	fieldInstrAddr     = "instruction_addr"
	fieldRegisters     = "registers"
	fieldBasic         = "basic"
	fieldExcRegisters  = "exception"
	fieldStack         = "stack"
	fieldGrowDirection = "grow_direction"
	fieldDumpStart     = "dump_start"
	fieldDumpEnd       = "dump_end"
	fieldStackPointer  = "stack_pointer"
	fieldOverflow      = "overflow"
	fieldNotable       = "notable_addresses"
)
