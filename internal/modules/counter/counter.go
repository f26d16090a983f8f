package counter

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
)

// Usage is the tally of one command since process start.
type Usage struct {
	Command string `json:"command"`
	Count   int64  `json:"count"`
	Errors  int64  `json:"errors"`
}

// Counter tallies slash command invocations in memory.
type Counter struct {
	mu       sync.RWMutex
	commands map[string]*Usage
}

func New() *Counter {
	return &Counter{commands: make(map[string]*Usage)}
}

func (c *Counter) entry(command string) *Usage {
	name := strings.ToLower(strings.TrimSpace(command))
	usage := c.commands[name]
	if usage == nil {
		usage = &Usage{Command: name}
		c.commands[name] = usage
	}
	return usage
}

// Record counts one invocation. Bot authors are not counted.
func (c *Counter) Record(command string, bot bool) {
	if bot {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(command).Count++
}

// RecordError counts a failed invocation. A command seen for the first time through an
// error also counts as used once.
func (c *Counter) RecordError(command string, bot bool) {
	if bot {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	usage := c.entry(command)
	if usage.Count == 0 {
		usage.Count = 1
	}
	usage.Errors++
}

func (c *Counter) Get(command string) (Usage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	usage, ok := c.commands[strings.ToLower(strings.TrimSpace(command))]
	if !ok {
		return Usage{}, false
	}
	return *usage, true
}

// Snapshot returns every tally, most used first.
func (c *Counter) Snapshot() []Usage {
	c.mu.RLock()
	out := make([]Usage, 0, len(c.commands))
	for _, usage := range c.commands {
		out = append(out, *usage)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Command < out[j].Command
	})
	return out
}

func (c *Counter) Describe(command string) string {
	name := strings.ToLower(strings.TrimSpace(command))
	usage, ok := c.Get(name)
	if !ok {
		return fmt.Sprintf("`%s` hasn't been used, yet...", name)
	}
	message := fmt.Sprintf("`%s` has been used %s since last reboot", name, times(usage.Count))
	if usage.Errors >= 1 {
		message += fmt.Sprintf(", and sent an error %s", times(usage.Errors))
	}
	return message + "."
}

func (c *Counter) DescribeAll() string {
	var b strings.Builder
	b.WriteString("**All commands usage since last reboot:**\n\n")
	for _, usage := range c.Snapshot() {
		fmt.Fprintf(&b, "- `%s`: Used %s.\n", usage.Command, times(usage.Count))
	}
	return b.String()
}

func times(n int64) string {
	if n == 1 {
		return "1 time"
	}
	return humanize.Comma(n) + " times"
}
