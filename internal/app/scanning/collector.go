package scanning

import (
	"sort"
	"sync"

	"github.com/ahrav/leakwalk/internal/domain/scanning"
)

// Collector accumulates the outcome of one scan. Workers finish commits out of
// order, so leaks and warnings are kept per traversal sequence number and
// only flattened when Results is called.
type Collector struct {
	mu       sync.Mutex
	commits  int
	leaks    map[int][]scanning.Leak
	warnings map[int][]scanning.Warning
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		leaks:    make(map[int][]scanning.Leak),
		warnings: make(map[int][]scanning.Warning),
	}
}

// CommitVisited counts one processed commit.
func (c *Collector) CommitVisited() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits++
}

// Add stores the leaks of the commit at traversal position seq. The batch
// keeps its order; nothing is deduplicated.
func (c *Collector) Add(seq int, leaks []scanning.Leak) {
	if len(leaks) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaks[seq] = append(c.leaks[seq], leaks...)
}

// Warn records a recoverable problem met while processing the commit at seq.
func (c *Collector) Warn(seq int, w scanning.Warning) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings[seq] = append(c.warnings[seq], w)
}

// CommitsVisited returns the number of commits counted so far.
func (c *Collector) CommitsVisited() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commits
}

// Results flattens everything collected so far in traversal order. It may be
// called more than once; each call returns a fresh value.
func (c *Collector) Results() *scanning.Results {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := scanning.NewResults()
	res.CommitsNumber = c.commits
	for _, seq := range sortedKeys(c.leaks) {
		res.Outputs = append(res.Outputs, c.leaks[seq]...)
	}
	for _, seq := range sortedKeys(c.warnings) {
		res.Warnings = append(res.Warnings, c.warnings[seq]...)
	}
	return res
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
