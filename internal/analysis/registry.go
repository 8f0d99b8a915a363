package analysis

import (
	"sync"
)

// Registry holds at most one Loop per chat, created on first use.
type Registry struct {
	mu      sync.Mutex
	loops   map[int64]*Loop
	newLoop func(chatID int64) *Loop
}

// NewRegistry creates a registry that builds loops with newLoop.
func NewRegistry(newLoop func(chatID int64) *Loop) *Registry {
	return &Registry{
		loops:   make(map[int64]*Loop),
		newLoop: newLoop,
	}
}

// Get returns the chat's loop, creating an idle one if needed.
func (r *Registry) Get(chatID int64) *Loop {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.loops[chatID]
	if !ok {
		l = r.newLoop(chatID)
		r.loops[chatID] = l
	}
	return l
}

// Active returns the number of running loops.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, l := range r.loops {
		if l.Running() {
			n++
		}
	}
	return n
}

// StopAll stops every running loop and waits for them to exit.
func (r *Registry) StopAll() {
	r.mu.Lock()
	loops := make([]*Loop, 0, len(r.loops))
	for _, l := range r.loops {
		loops = append(loops, l)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, l := range loops {
		wg.Add(1)
		go func(l *Loop) {
			defer wg.Done()
			l.Stop()
		}(l)
	}
	wg.Wait()
}
