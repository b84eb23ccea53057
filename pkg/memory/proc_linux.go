package memory

import (
	"os"

	"golang.org/x/sys/unix"
)

// Process reads the live address space of a process through
// process_vm_readv(2). The kernel performs the access on our behalf, so a
// wild pointer comes back as EFAULT instead of delivering a second fault to
// the thread that is writing the report.
type Process struct {
	pid int
}

// Current returns a reader over the calling process's own address space.
func Current() *Process {
	return &Process{pid: os.Getpid()}
}

// Attach returns a reader over another process's address space. The caller
// needs ptrace-level access to the target.
func Attach(pid int) *Process {
	return &Process{pid: pid}
}

func (p *Process) ReadAt(buf []byte, addr uint64) error {
	if !rangeValid(addr, len(buf)) {
		return ErrInaccessible
	}
	if len(buf) == 0 {
		return nil
	}
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	n, err := unix.ProcessVMReadv(p.pid, local, remote, 0)
	if err != nil || n != len(buf) {
		return ErrInaccessible
	}
	return nil
}
