package daemon

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDedupeLRUSeen(t *testing.T) {
	d := NewDedupeLRU(4)
	key := d.Key("post_tool_use", "sess-1", "tool-use-9")

	require.False(t, d.Seen(key))
	require.True(t, d.Seen(key))
}

func TestDedupeLRUEvictsOldest(t *testing.T) {
	d := NewDedupeLRU(2)
	require.False(t, d.Seen("a"))
	require.False(t, d.Seen("b"))
	require.False(t, d.Seen("c")) // evicts a
	require.Equal(t, 2, d.Len())
	require.False(t, d.Seen("a")) // a was evicted, counts as new again
}

func TestDedupeLRUBounded(t *testing.T) {
	d := NewDedupeLRU(8)
	for i := 0; i < 100; i++ {
		d.Seen(fmt.Sprintf("key-%d", i))
	}
	require.Equal(t, 8, d.Len())
}

func TestCORSSetDynamicOrigins(t *testing.T) {
	s := NewCORSSet([]string{"http://localhost:3000"})
	require.True(t, s.Allowed("http://localhost:3000"))
	require.False(t, s.Allowed("https://abc.ngrok.app"))

	s.Add("https://abc.ngrok.app")
	require.True(t, s.Allowed("https://abc.ngrok.app"))

	s.Remove("https://abc.ngrok.app")
	require.False(t, s.Allowed("https://abc.ngrok.app"))

	// Static origins can't be removed at runtime.
	s.Remove("http://localhost:3000")
	require.True(t, s.Allowed("http://localhost:3000"))
}

func TestIndexStatusSingleRebuild(t *testing.T) {
	st := NewIndexStatus()
	require.True(t, st.Begin(10))
	require.False(t, st.Begin(10), "second Begin while running must report conflict")

	st.Fail(nil)
	require.True(t, st.Begin(5), "a failed build releases the running state")
}
