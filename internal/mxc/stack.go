// Package mxc implements the execution context stack.
//
// Every logical call chain (one player command, one heartbeat) owns a Stack
// of Frames. The acting identity of the chain is derived from the frames,
// never stored globally, so concurrent chains cannot observe each other.
// A chain that suspends captures a Snapshot with Join; the continuation
// re-establishes it with Restore on whatever stack runs it and undoes that
// with Release when done.
package mxc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"mudcore/internal/logging"
)

// ErrStackImbalance reports a stack-discipline violation in calling code:
// a pop without a push, out-of-order unwinding, or reuse of a released
// snapshot or of one whose chain has unwound past it. A stack that reported
// it stays broken.
var ErrStackImbalance = errors.New("execution context stack imbalance")

// Frame is one entry of the stack.
type Frame struct {
	File   string // module path of the running code
	Func   string // function or verb name
	Object string // id of the object the code runs on
	Player string // acting identity established by this frame, if any
	Verb   string // verb being executed, if any
}

func (f Frame) String() string {
	return fmt.Sprintf("%s:%s(%s)", f.File, f.Func, f.Object)
}

var stackIDs atomic.Uint64

// Stack is the execution context of one call chain. It is safe for
// concurrent use, but frames must still be pushed and popped in strictly
// nested order.
type Stack struct {
	id uint64

	mu       sync.Mutex
	frames   []Frame
	mark     int // depth at the last Join
	restores []restoreRecord
	joined   []*Snapshot // snapshots taken here that are still live
	err      error
}

type restoreRecord struct {
	snap  *Snapshot
	saved []Frame
	mark  int
}

// New creates an empty stack.
func New() *Stack {
	return &Stack{id: stackIDs.Add(1)}
}

// ID identifies the stack in logs.
func (s *Stack) ID() uint64 { return s.id }

// fail poisons the stack. Must be called with s.mu held.
func (s *Stack) fail(format string, args ...any) error {
	s.err = fmt.Errorf("stack %d: %s: %w", s.id, fmt.Sprintf(format, args...), ErrStackImbalance)
	logging.MXCError("%v", s.err)
	return s.err
}

// Err returns the imbalance that broke the stack, if any.
func (s *Stack) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Push enters a new frame.
func (s *Stack) Push(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	return nil
}

// Pop leaves the innermost frame.
func (s *Stack) Pop() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Frame{}, s.err
	}
	if len(s.frames) == 0 {
		return Frame{}, s.fail("pop on empty stack")
	}
	f := s.frames[len(s.frames)-1]
	s.truncate(len(s.frames) - 1)
	return f, nil
}

// truncate drops frames down to depth and invalidates the snapshots joined
// here that captured deeper frames. Must be called with s.mu held.
func (s *Stack) truncate(depth int) {
	s.frames = s.frames[:depth]
	if s.mark > depth {
		s.mark = depth
	}
	live := s.joined[:0]
	for _, snap := range s.joined {
		switch {
		case snap.released.Load():
		case len(snap.frames) > depth:
			snap.unwound.Store(true)
		default:
			live = append(live, snap)
		}
	}
	for i := len(live); i < len(s.joined); i++ {
		s.joined[i] = nil
	}
	s.joined = live
}

// Enter pushes f and returns the matching leave func, which fails if the
// stack is not back at the depth f was pushed at.
func (s *Stack) Enter(f Frame) (func() error, error) {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return nil, s.err
	}
	s.frames = append(s.frames, f)
	depth := len(s.frames)
	s.mu.Unlock()

	return func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return s.err
		}
		if len(s.frames) != depth {
			return s.fail("leaving %s at depth %d, entered at %d", f, len(s.frames), depth)
		}
		s.truncate(depth - 1)
		return nil
	}, nil
}

// Join captures the stack so a suspended chain can be resumed elsewhere.
// The snapshot holds the full stack plus the delta of frames pushed since
// the previous Join.
func (s *Stack) Join() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &Snapshot{
		origin: s,
		frames:   append([]Frame(nil), s.frames...),
		base:     s.mark,
		restores: len(s.restores),
	}
	s.mark = len(s.frames)
	s.joined = append(s.joined, snap)
	logging.MXCDebug("stack %d: joined at depth %d (delta %d)", s.id, len(snap.frames), len(snap.frames)-snap.base)
	return snap
}

// Restore re-establishes the frames, and with them ThisPlayer and
// TruePlayer, captured by snap. The frames active before the restore are
// kept aside until Release.
func (s *Stack) Restore(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("restore nil snapshot: %w", ErrStackImbalance)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if snap.released.Load() {
		return s.fail("restore of released snapshot from stack %d", snap.origin.id)
	}
	if snap.unwound.Load() {
		return s.fail("restore of snapshot from stack %d after its chain unwound below depth %d", snap.origin.id, len(snap.frames))
	}
	s.restores = append(s.restores, restoreRecord{
		snap:  snap,
		saved: append([]Frame(nil), s.frames...),
		mark:  s.mark,
	})
	s.frames = append([]Frame(nil), snap.frames...)
	s.mark = len(s.frames)
	logging.MXCDebug("stack %d: restored snapshot of stack %d at depth %d", s.id, snap.origin.id, len(s.frames))
	return nil
}

// Release undoes snap. On a stack where snap was restored, the stack
// returns to its frames from before the restore; restores must be released
// in reverse order. On the stack snap was joined from, the frames the join
// captured as its delta are discarded.
func (s *Stack) Release(snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("release nil snapshot: %w", ErrStackImbalance)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if snap.released.Load() {
		return s.fail("snapshot released twice")
	}

	if n := len(s.restores); n > 0 {
		top := s.restores[n-1]
		if top.snap == snap {
			s.restores = s.restores[:n-1]
			snap.released.Store(true)
			// Joins made on top of the restored frames die with them.
			live := s.joined[:0]
			for _, j := range s.joined {
				if j.restores >= n {
					if !j.released.Load() {
						j.unwound.Store(true)
					}
					continue
				}
				live = append(live, j)
			}
			s.joined = live
			s.frames = top.saved
			s.mark = top.mark
			return nil
		}
		for _, r := range s.restores[:n-1] {
			if r.snap == snap {
				return s.fail("release out of order")
			}
		}
	}

	if snap.origin != s {
		return s.fail("release of snapshot from stack %d that was never restored here", snap.origin.id)
	}
	if snap.unwound.Load() || len(s.frames) < len(snap.frames) {
		return s.fail("release after unwinding below join depth %d", len(snap.frames))
	}
	snap.released.Store(true)
	s.truncate(snap.base)
	return nil
}

// Depth returns the number of frames.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Frames returns a copy of the frames, outermost first.
func (s *Stack) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

// Top returns the innermost frame.
func (s *Stack) Top() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return Frame{}, false
	}
	return s.frames[len(s.frames)-1], true
}

// ThisPlayer is the acting identity: the player of the innermost frame that
// established one.
func (s *Stack) ThisPlayer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return thisPlayer(s.frames)
}

// TruePlayer is the identity that initiated the chain: the player of the
// outermost frame that established one.
func (s *Stack) TruePlayer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return truePlayer(s.frames)
}

// CurrentVerb is the verb of the innermost frame executing one.
func (s *Stack) CurrentVerb() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.frames) - 1; i >= 0; i-- {
		if s.frames[i].Verb != "" {
			return s.frames[i].Verb
		}
	}
	return ""
}

// PreviousObject returns the object of the frame n levels above the
// innermost one; PreviousObject(0) is the direct caller.
func (s *Stack) PreviousObject(n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.frames) - 2 - n
	if n < 0 || i < 0 {
		return ""
	}
	return s.frames[i].Object
}

func thisPlayer(frames []Frame) string {
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Player != "" {
			return frames[i].Player
		}
	}
	return ""
}

func truePlayer(frames []Frame) string {
	for _, f := range frames {
		if f.Player != "" {
			return f.Player
		}
	}
	return ""
}

// Snapshot is an immutable capture of a stack taken by Join.
type Snapshot struct {
	origin   *Stack
	frames   []Frame
	base     int
	restores int // restores active on origin at join time
	released atomic.Bool
	unwound  atomic.Bool
}

// Frames returns the full captured stack.
func (s *Snapshot) Frames() []Frame { return append([]Frame(nil), s.frames...) }

// Delta returns the frames pushed between the previous Join and this one.
func (s *Snapshot) Delta() []Frame { return append([]Frame(nil), s.frames[s.base:]...) }

// Depth returns the captured depth.
func (s *Snapshot) Depth() int { return len(s.frames) }

// ThisPlayer returns the acting identity at capture time.
func (s *Snapshot) ThisPlayer() string { return thisPlayer(s.frames) }

// TruePlayer returns the initiating identity at capture time.
func (s *Snapshot) TruePlayer() string { return truePlayer(s.frames) }

// Released reports whether the snapshot has been released.
func (s *Snapshot) Released() bool { return s.released.Load() }

// Unwound reports whether the chain it was joined from has since popped
// frames it captured.
func (s *Snapshot) Unwound() bool { return s.unwound.Load() }
