// Package backtrace reconstructs call stacks from a faulted thread's
// register state by walking the frame-pointer chain through the safe memory
// layer, and resolves the resulting addresses against the loaded images.
package backtrace

import (
	"github.com/blacktop/crashkit/pkg/fault"
	"github.com/blacktop/crashkit/pkg/memory"
)

// MaxFrames is the hard ceiling on reconstructed frames, whatever limit the
// caller asks for.
const MaxFrames = 150

// stackFrame mirrors the in-memory frame record: saved frame pointer link,
// then the return address.
const (
	frameLinkOffset   = 0
	frameReturnOffset = 8
)

// Capture reconstructs up to maxFrames frames for the thread described by
// ec, innermost first. The second result is the number of frames that had to
// be dropped because the walk went deeper than the limit.
//
// A thread carrying a pre-captured trace (a user-reported fault) is returned
// verbatim with nothing skipped. Otherwise the walk starts at the
// instruction pointer and follows the frame-pointer chain until it breaks,
// stops advancing, or hits the ceiling.
func Capture(r memory.Reader, ec *fault.ExecutionContext, maxFrames int) ([]uint64, int) {
	if ec.CustomTrace != nil {
		frames := make([]uint64, len(ec.CustomTrace))
		copy(frames, ec.CustomTrace)
		return frames, 0
	}
	if maxFrames <= 0 || maxFrames > MaxFrames {
		maxFrames = MaxFrames
	}

	frames := []uint64{ec.InstructionPointer}
	fp := ec.FramePointer
	for len(frames) < MaxFrames {
		if fp == 0 || fp%8 != 0 {
			break
		}
		link, err := memory.ReadPointer(r, fp+frameLinkOffset)
		if err != nil {
			break
		}
		ret, err := memory.ReadPointer(r, fp+frameReturnOffset)
		if err != nil || ret == 0 {
			break
		}
		frames = append(frames, ret)
		// Frames must strictly advance; a link pointing at or below the
		// current frame is a loop or corruption.
		if link <= fp {
			break
		}
		fp = link
	}

	if len(frames) > maxFrames {
		skipped := len(frames) - maxFrames
		return frames[:maxFrames], skipped
	}
	return frames, 0
}
