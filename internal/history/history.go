// Package history keeps a bounded undo/redo trail of photo-editor states.
package history

import (
	"sync"
	"time"
)

// DefaultMaxDepth bounds the trail when the caller does not choose one.
const DefaultMaxDepth = 10

// State is one editor snapshot. URI points at the rendered image for that
// step; Operations lists the edits applied to produce it ("crop",
// "rotate 90"). Timestamp is epoch milliseconds at push time.
type State struct {
	URI        string
	Timestamp  int64
	Operations []string
}

// Stack is a bounded undo/redo stack. The cursor marks the state currently
// shown in the editor. Pushing while undone discards the redo branch, the
// way every editor does. When the trail is full the oldest state is evicted
// and the cursor stays on the newest entry.
type Stack struct {
	mu     sync.Mutex
	max    int
	states []State
	cursor int // index of the current state; -1 when empty
}

// NewStack builds a stack holding at most maxDepth states. Zero or negative
// means DefaultMaxDepth.
func NewStack(maxDepth int) *Stack {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Stack{max: maxDepth, cursor: -1}
}

// Push records a new state as the current one. Any states ahead of the
// cursor (the redo branch) are discarded first; then, if the trail exceeds
// its bound, the oldest state falls off the bottom.
func (s *Stack) Push(uri string, operations []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		URI:        uri,
		Timestamp:  time.Now().UnixMilli(),
		Operations: append([]string(nil), operations...),
	}
	s.states = append(s.states[:s.cursor+1], st)
	if len(s.states) > s.max {
		s.states = s.states[1:]
	}
	s.cursor = len(s.states) - 1
}

// Undo steps back one state and returns the one now current, or nil when
// there is nothing earlier.
func (s *Stack) Undo() *State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor <= 0 {
		return nil
	}
	s.cursor--
	st := s.states[s.cursor]
	return &st
}

// Redo steps forward one state and returns the one now current, or nil when
// nothing has been undone.
func (s *Stack) Redo() *State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor >= len(s.states)-1 {
		return nil
	}
	s.cursor++
	st := s.states[s.cursor]
	return &st
}

// Current returns the state under the cursor, or nil when the stack is
// empty.
func (s *Stack) Current() *State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cursor < 0 {
		return nil
	}
	st := s.states[s.cursor]
	return &st
}

// CurrentURI is a convenience for render loops; empty when the stack is.
func (s *Stack) CurrentURI() string {
	if st := s.Current(); st != nil {
		return st.URI
	}
	return ""
}

// CanUndo reports whether Undo would move the cursor.
func (s *Stack) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor > 0
}

// CanRedo reports whether Redo would move the cursor.
func (s *Stack) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor < len(s.states)-1
}

// UndoCount is how many steps back are available.
func (s *Stack) UndoCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor < 0 {
		return 0
	}
	return s.cursor
}

// RedoCount is how many steps forward are available.
func (s *Stack) RedoCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor < 0 {
		return 0
	}
	return len(s.states) - 1 - s.cursor
}

// Len is the total number of states held.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// Clear drops every state.
func (s *Stack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = nil
	s.cursor = -1
}
