package report

import "golang.org/x/sys/unix"

// probeMemory reads the host memory totals. Nil when the OS will not say.
func probeMemory() *MemoryStats {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return nil
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	return &MemoryStats{
		Usable: uint64(si.Totalram) * unit,
		Free:   uint64(si.Freeram) * unit,
	}
}
