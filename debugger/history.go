package debugger

import "sync"

// CommandHistory keeps the debugger's recent command lines for repeat and
// arrow-key navigation. Blank lines and immediate repeats are not stored,
// and the buffer holds at most maxSize lines.
type CommandHistory struct {
	mu       sync.RWMutex
	commands []string
	maxSize  int
	cursor   int // navigation point; len(commands) means past the newest
}

// NewCommandHistory creates a history keeping the last maxSize commands.
func NewCommandHistory(maxSize int) *CommandHistory {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &CommandHistory{maxSize: maxSize}
}

// Add records cmd and leaves the navigation cursor at the blank prompt
// past the newest entry.
func (h *CommandHistory) Add(cmd string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.worthStoring(cmd) {
		h.commands = append(h.commands, cmd)
		if overflow := len(h.commands) - h.maxSize; overflow > 0 {
			kept := make([]string, h.maxSize)
			copy(kept, h.commands[overflow:])
			h.commands = kept
		}
	}
	h.cursor = len(h.commands)
}

// worthStoring rejects blank lines and repeats of the newest entry.
// Caller holds mu.
func (h *CommandHistory) worthStoring(cmd string) bool {
	if cmd == "" {
		return false
	}
	return len(h.commands) == 0 || h.commands[len(h.commands)-1] != cmd
}

// Previous walks toward older commands, returning "" once the oldest has
// already been handed out.
func (h *CommandHistory) Previous() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cursor == 0 {
		return ""
	}
	h.cursor--
	return h.commands[h.cursor]
}

// Next walks back toward the newest command, returning "" for the blank
// prompt past it.
func (h *CommandHistory) Next() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cursor >= len(h.commands)-1 {
		h.cursor = len(h.commands)
		return ""
	}
	h.cursor++
	return h.commands[h.cursor]
}

// Len returns the number of stored commands.
func (h *CommandHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.commands)
}

// All returns a copy of the stored commands, oldest first.
func (h *CommandHistory) All() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, len(h.commands))
	copy(out, h.commands)
	return out
}
