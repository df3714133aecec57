package stream

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperpiper/internal/activity"
)

func TestLogEvictsOldest(t *testing.T) {
	l := NewLog(0)
	for i := 0; i < 100; i++ {
		l.Append(fmt.Sprintf("line %d", i))
	}
	require.Equal(t, 100, l.Len())
	assert.Equal(t, "line 0", l.Lines()[0])

	l.Append("line 100")
	lines := l.Lines()
	require.Len(t, lines, 100)
	assert.Equal(t, "line 1", lines[0])
	assert.Equal(t, "line 100", lines[99])

	for i := 101; i < 350; i++ {
		l.Append(fmt.Sprintf("line %d", i))
		assert.LessOrEqual(t, l.Len(), 100)
	}
	assert.Equal(t, "line 250", l.Lines()[0])

	l.Clear()
	assert.Zero(t, l.Len())
	assert.Empty(t, l.Lines())
}

func TestAccumulator(t *testing.T) {
	var a Accumulator
	var got []string
	for _, c := range []byte("hel") {
		_, ok := a.Feed(c)
		assert.False(t, ok)
	}
	assert.Equal(t, "hel", a.Pending())

	for _, c := range []byte("lo\r\n\n\nworld\n") {
		if line, ok := a.Feed(c); ok {
			got = append(got, line)
		}
	}
	assert.Equal(t, []string{"hello", "world"}, got)
	assert.Empty(t, a.Pending())
}

func TestDebouncer(t *testing.T) {
	d := NewDebouncer(0)
	assert.False(t, d.Due(1000), "clean")

	d.Mark()
	assert.True(t, d.Due(1000))
	d.Rendered(1000)

	d.Mark()
	assert.False(t, d.Due(1200))
	assert.False(t, d.Due(1499))
	assert.True(t, d.Due(1500))
}

func TestBufferBurstConverges(t *testing.T) {
	b := NewBuffer()
	renders := 0

	// A burst every 50ms for one second: at most one render per 500ms.
	now := activity.Millis(10000)
	for i := 0; i < 20; i++ {
		b.Consume([]byte(fmt.Sprintf("msg %d\n", i)))
		if b.Due(now) {
			renders++
			b.Rendered(now)
		}
		now += 50
	}
	assert.LessOrEqual(t, renders, 2)

	// The pause lets the periodic check converge on the final content.
	now += 500
	require.True(t, b.Due(now))
	b.Rendered(now)
	assert.False(t, b.Due(now+1000))
	assert.Equal(t, "msg 19", b.Log.Lines()[b.Log.Len()-1])
}

func TestBufferReset(t *testing.T) {
	b := NewBuffer()
	b.Consume([]byte("a\nb\npartial"))
	require.Equal(t, 2, b.Log.Len())

	b.Reset()
	assert.Zero(t, b.Log.Len())
	assert.True(t, b.ClearAll())
	b.Consume([]byte("\n"))
	assert.Zero(t, b.Log.Len(), "partial line was dropped")

	b.Rendered(0)
	assert.False(t, b.ClearAll())
}

type recordingSink struct {
	mu        sync.Mutex
	connected []uint64
	data      map[uint64][]byte
}

func (r *recordingSink) StreamConnected(client uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, client)
}

func (r *recordingSink) StreamBytes(client uint64, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.data == nil {
		r.data = map[uint64][]byte{}
	}
	r.data[client] = append(r.data[client], data...)
}

func (r *recordingSink) bytes(client uint64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.data[client])
}

func (r *recordingSink) clients() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.connected...)
}

func TestServerSupersedesClient(t *testing.T) {
	sink := &recordingSink{}
	srv := NewServer("127.0.0.1:0", sink)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	first, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer first.Close()
	_, err = first.Write([]byte("one\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sink.bytes(1) == "one\n" }, 2*time.Second, 10*time.Millisecond)

	second, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer second.Close()
	_, err = second.Write([]byte("two\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sink.bytes(2) == "two\n" }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []uint64{1, 2}, sink.clients())

	// The first connection was closed by the server.
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = first.Read(make([]byte, 1))
	assert.Error(t, err)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
