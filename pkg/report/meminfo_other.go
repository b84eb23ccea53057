//go:build !linux

package report

func probeMemory() *MemoryStats { return nil }
