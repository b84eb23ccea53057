//go:build !linux

package memory

// Process is a stub on platforms without a guarded remote-read primitive;
// every read reports ErrInaccessible. Reports generated here fall back to
// Snapshot readers populated by the monitor layer.
type Process struct {
	pid int
}

func Current() *Process       { return &Process{} }
func Attach(pid int) *Process { return &Process{pid: pid} }

func (p *Process) ReadAt(buf []byte, addr uint64) error {
	if len(buf) == 0 && rangeValid(addr, 0) {
		return nil
	}
	return ErrInaccessible
}
