package orchestrator

import "sync"

// AbortRegistry tracks channels with a pending stop request. The loop
// polls it at the top of each iteration, after each LLM completion and
// before each tool execution.
type AbortRegistry struct {
	mu      sync.Mutex
	pending map[string]bool
}

// NewAbortRegistry creates an empty registry.
func NewAbortRegistry() *AbortRegistry {
	return &AbortRegistry{pending: map[string]bool{}}
}

// Request marks a channel for abort. The next poll consumes it.
func (a *AbortRegistry) Request(channel string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[channel] = true
}

// Consume reports and clears a pending abort for the channel.
func (a *AbortRegistry) Consume(channel string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pending[channel] {
		delete(a.pending, channel)
		return true
	}
	return false
}

// Clear drops any pending abort without consuming it, used when a
// prompt chain finishes normally.
func (a *AbortRegistry) Clear(channel string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.pending, channel)
}
