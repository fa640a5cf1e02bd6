package blambda

// Allocator hands out byte buffers. Both allocators on the [Context]
// implement it so handler code can be written against one shape and switch
// lifetimes by switching allocators.
type Allocator interface {
	// Alloc returns a zeroed buffer of n bytes.
	Alloc(n int) []byte
}

// GPA is the general purpose allocator: buffers come from the Go heap and
// live for as long as the handler keeps a reference. The runtime never
// touches them between invocations.
type GPA struct{}

// Alloc implements [Allocator].
func (GPA) Alloc(n int) []byte { return make([]byte, n) }

const (
	arenaMinChunk  = 64 << 10
	arenaRetainMin = 1 << 20
)

// Arena is a bump allocator backed by a growing chunk list. Every buffer it
// hands out is invalidated by a single [Arena.Reset]; the runtime resets it
// after each invocation's outcome has been reported, so arena buffers must
// not outlive the invocation that allocated them.
//
// Reset rewinds the cursor without releasing chunks, keeping warm path
// allocation O(1). Retained capacity is capped at the larger of 1 MiB and
// twice the largest per-invocation usage seen so far, so one pathological
// invocation does not inflate resident memory for the life of the sandbox.
type Arena struct {
	chunks    [][]byte
	active    int
	off       int
	used      int
	highWater int
}

// NewArena returns an empty arena. The zero value is also usable.
func NewArena() *Arena { return &Arena{} }

// Alloc implements [Allocator]. The returned buffer is zeroed and has its
// capacity clipped so appends cannot bleed into neighbouring allocations.
func (a *Arena) Alloc(n int) []byte {
	if n <= 0 {
		return nil
	}
	for {
		if a.active < len(a.chunks) {
			c := a.chunks[a.active]
			if a.off+n <= len(c) {
				buf := c[a.off : a.off+n : a.off+n]
				a.off += n
				a.used += n
				clear(buf)
				return buf
			}
			a.active++
			a.off = 0
			continue
		}
		a.grow(n)
	}
}

// Used returns the number of bytes allocated since the last reset.
func (a *Arena) Used() int { return a.used }

// Cap returns the total retained chunk capacity.
func (a *Arena) Cap() int {
	var total int
	for _, c := range a.chunks {
		total += len(c)
	}
	return total
}

// Reset rewinds the arena to empty. Chunks are retained up to the retention
// limit; anything beyond it is released to the garbage collector.
func (a *Arena) Reset() {
	if a.used > a.highWater {
		a.highWater = a.used
	}
	a.active, a.off, a.used = 0, 0, 0

	limit := arenaRetainMin
	if hw := 2 * a.highWater; hw > limit {
		limit = hw
	}

	var total int
	keep := len(a.chunks)
	for i, c := range a.chunks {
		if total+len(c) > limit {
			keep = i
			break
		}
		total += len(c)
	}
	a.chunks = a.chunks[:keep:keep]
}

// grow appends a chunk large enough for n, doubling sizes as the list grows.
func (a *Arena) grow(n int) {
	size := arenaMinChunk
	if len(a.chunks) > 0 {
		size = 2 * len(a.chunks[len(a.chunks)-1])
	}
	if size < n {
		size = n
	}
	a.chunks = append(a.chunks, make([]byte, size))
}
