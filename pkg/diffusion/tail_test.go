package diffusion

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStderrTailKeepsOnlyLastNLines(t *testing.T) {
	tail := newStderrTail()
	for i := 0; i < stderrTailLines+5; i++ {
		tail.Append(fmt.Sprintf("line-%d", i))
	}

	lines := tail.Lines()
	require.Len(t, lines, stderrTailLines)
	require.Equal(t, "line-5", lines[0])
	require.Equal(t, fmt.Sprintf("line-%d", stderrTailLines+4), lines[len(lines)-1])
}

func TestStderrTailUnderCapacity(t *testing.T) {
	tail := newStderrTail()
	tail.Append("one")
	tail.Append("two")

	require.Equal(t, []string{"one", "two"}, tail.Lines())
	require.Equal(t, "one\ntwo", tail.String())
}
