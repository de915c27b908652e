package executor

// Scopes is the runtime variable store: a stack of frames. The base frame
// is seeded with patient context; each loop iteration pushes a frame for
// its loop variable. Reads walk inside out, assignments always target the
// innermost frame.
type Scopes struct {
	frames []map[string]any
}

// NewScopes builds a scope stack with a single base frame.
func NewScopes(base map[string]any) *Scopes {
	if base == nil {
		base = map[string]any{}
	}
	return &Scopes{frames: []map[string]any{base}}
}

// Lookup implements template.Scope.
func (s *Scopes) Lookup(name string) (any, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if v, ok := s.frames[i][name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Bind assigns into the innermost frame.
func (s *Scopes) Bind(name string, v any) {
	s.frames[len(s.frames)-1][name] = v
}

// BindBase assigns into the base frame, bypassing loop frames. Stores live
// there so they survive loop exits.
func (s *Scopes) BindBase(name string, v any) {
	s.frames[0][name] = v
}

// Push adds a frame.
func (s *Scopes) Push(frame map[string]any) {
	if frame == nil {
		frame = map[string]any{}
	}
	s.frames = append(s.frames, frame)
}

// Pop removes the innermost frame and returns it. The base frame is never
// popped.
func (s *Scopes) Pop() map[string]any {
	if len(s.frames) == 1 {
		return nil
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return top
}

// Depth returns the number of frames.
func (s *Scopes) Depth() int { return len(s.frames) }
