package monitor

import "sort"

// registry is a multiset of paths. A path is present iff its count is >= 1.
type registry struct {
	counts map[string]int
}

func newRegistry() *registry {
	return &registry{counts: make(map[string]int)}
}

func (r *registry) count(path string) int { return r.counts[path] }

func (r *registry) len() int { return len(r.counts) }

// add increments path and returns the new count.
func (r *registry) add(path string) int {
	r.counts[path]++
	return r.counts[path]
}

// remove decrements path and returns the new count. It must only be called
// for paths with a count > 0.
func (r *registry) remove(path string) int {
	n := r.counts[path] - 1
	if n <= 0 {
		delete(r.counts, path)
		return 0
	}
	r.counts[path] = n
	return n
}

// list returns the distinct paths, sorted.
func (r *registry) list() []string {
	paths := make([]string, 0, len(r.counts))
	for path := range r.counts {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func (r *registry) reset() {
	r.counts = make(map[string]int)
}
