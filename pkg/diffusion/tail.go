package diffusion

import (
	"container/ring"
	"strings"
	"sync"
)

const stderrTailLines = 20

// stderrTail is a bounded ring buffer of the last N stderr lines (spec
// §4.3.3). A fixed-size container/ring of lines is the natural fit here —
// the retrieval pack's byte-oriented ring buffer library is shaped for
// streaming byte windows, not a fixed line count (see DESIGN.md).
type stderrTail struct {
	mu  sync.Mutex
	buf *ring.Ring
	n   int
}

func newStderrTail() *stderrTail {
	return &stderrTail{buf: ring.New(stderrTailLines)}
}

func (t *stderrTail) Append(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Value = line
	t.buf = t.buf.Next()
	if t.n < stderrTailLines {
		t.n++
	}
}

// Lines returns the buffered lines in chronological order.
func (t *stderrTail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, t.n)
	start := t.buf
	for i := 0; i < stderrTailLines-t.n; i++ {
		start = start.Next()
	}
	start.Do(func(v interface{}) {
		if v != nil {
			out = append(out, v.(string))
		}
	})
	return out
}

func (t *stderrTail) String() string {
	return strings.Join(t.Lines(), "\n")
}
