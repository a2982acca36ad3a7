package alerts

// ringBuffer is a fixed-capacity circular buffer of metric samples. Sustained
// threshold checks require the buffer to be full, so fullness is a first-class
// query rather than a length comparison at call sites.
type ringBuffer struct {
	values []float64
	head   int
	size   int
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{values: make([]float64, capacity)}
}

// Push appends a sample, evicting the oldest when full.
func (r *ringBuffer) Push(value float64) {
	r.values[(r.head+r.size)%len(r.values)] = value
	if r.size < len(r.values) {
		r.size++
		return
	}
	r.head = (r.head + 1) % len(r.values)
}

func (r *ringBuffer) Len() int {
	return r.size
}

// Full reports whether the buffer holds capacity samples.
func (r *ringBuffer) Full() bool {
	return r.size == len(r.values)
}

// Latest returns the most recent sample.
func (r *ringBuffer) Latest() (float64, bool) {
	if r.size == 0 {
		return 0, false
	}
	return r.values[(r.head+r.size-1)%len(r.values)], true
}

// Values returns an oldest-first snapshot of the buffer contents.
func (r *ringBuffer) Values() []float64 {
	out := make([]float64, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.values[(r.head+i)%len(r.values)]
	}
	return out
}

// allAtLeast reports whether every sample is at or above the threshold.
// Callers must check Full first; a partially filled buffer never sustains.
func (r *ringBuffer) allAtLeast(threshold float64) bool {
	for i := 0; i < r.size; i++ {
		if r.values[(r.head+i)%len(r.values)] < threshold {
			return false
		}
	}
	return true
}
