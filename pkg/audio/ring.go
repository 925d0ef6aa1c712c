package audio

import "sync"

// Ring is a bounded rolling buffer of 16-bit mono PCM. The ingress goroutine
// appends, the transcription windower snapshots; a mutex guards both and is
// held only across the copy, never across I/O. On overflow the oldest
// samples are discarded (most-recent-wins).
type Ring struct {
	mu       sync.Mutex
	buf      []byte
	maxBytes int
}

// NewRing returns a ring holding at most maxSamples int16 samples.
func NewRing(maxSamples int) *Ring {
	if maxSamples < 1 {
		maxSamples = 1
	}
	return &Ring{maxBytes: maxSamples * 2}
}

// Append adds PCM to the end of the ring, evicting the oldest bytes when
// the bound is exceeded. Odd trailing bytes are truncated to keep the
// buffer sample-aligned.
func (r *Ring) Append(pcm []byte) {
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	if len(pcm) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(pcm) >= r.maxBytes {
		// Incoming chunk alone fills the ring; keep its tail.
		r.buf = append(r.buf[:0], pcm[len(pcm)-r.maxBytes:]...)
		return
	}
	r.buf = append(r.buf, pcm...)
	if over := len(r.buf) - r.maxBytes; over > 0 {
		// Re-slice into a fresh allocation so the evicted prefix can be
		// collected instead of pinning the backing array forever.
		kept := make([]byte, r.maxBytes, r.maxBytes*2)
		copy(kept, r.buf[over:])
		r.buf = kept
	}
}

// Snapshot returns a copy of the current contents.
func (r *Ring) Snapshot() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	return out
}

// Tail returns a copy of the most recent n samples, or everything when
// fewer are buffered.
func (r *Ring) Tail(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := n * 2
	if want > len(r.buf) {
		want = len(r.buf)
	}
	out := make([]byte, want)
	copy(out, r.buf[len(r.buf)-want:])
	return out
}

// Len returns the number of buffered samples.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf) / 2
}

// Clear discards all buffered samples.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = nil
}
