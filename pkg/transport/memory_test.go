package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAndReceive(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	rx := m.Open("c1")
	require.NoError(t, m.Send("c1", []byte("hello")))

	select {
	case frame := <-rx:
		assert.Equal(t, []byte("hello"), frame)
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}
}

func TestSendUnknownConnection(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	err := m.Send("nope", []byte("x"))
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestSendAfterCloseConn(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	m.Open("c1")
	m.CloseConn("c1")

	err := m.Send("c1", []byte("x"))
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestSendCopiesFrame(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	rx := m.Open("c1")
	buf := []byte("abc")
	require.NoError(t, m.Send("c1", buf))
	buf[0] = 'z'

	frame := <-rx
	assert.Equal(t, []byte("abc"), frame, "delivered frame must not alias the sender's buffer")
}

func TestBufferFull(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	m.Open("c1")
	for i := 0; i < connBuffer; i++ {
		require.NoError(t, m.Send("c1", []byte("x")))
	}
	err := m.Send("c1", []byte("overflow"))
	assert.ErrorIs(t, err, ErrBufferFull)
}

func TestInject(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	require.NoError(t, m.Inject("c9", []byte("cmd")))

	select {
	case in := <-m.Inbound():
		assert.Equal(t, "c9", in.ConnectionID)
		assert.Equal(t, []byte("cmd"), in.Data)
	case <-time.After(time.Second):
		t.Fatal("inbound frame not delivered")
	}
}

func TestFaultDrop(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	rx := m.Open("c1")
	m.SetFault(func(connectionID string, data []byte) Fault {
		return Fault{Drop: true}
	})

	require.NoError(t, m.Send("c1", []byte("lost")))

	select {
	case <-rx:
		t.Fatal("dropped frame was delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFaultDuplicate(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	rx := m.Open("c1")
	m.SetFault(func(connectionID string, data []byte) Fault {
		return Fault{Duplicate: true}
	})

	require.NoError(t, m.Send("c1", []byte("twice")))

	for i := 0; i < 2; i++ {
		select {
		case frame := <-rx:
			assert.Equal(t, []byte("twice"), frame)
		case <-time.After(time.Second):
			t.Fatalf("copy %d not delivered", i+1)
		}
	}
}

func TestFaultDelay(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	rx := m.Open("c1")
	m.SetFault(func(connectionID string, data []byte) Fault {
		return Fault{Delay: 30 * time.Millisecond}
	})

	require.NoError(t, m.Send("c1", []byte("late")))

	select {
	case <-rx:
		t.Fatal("delayed frame arrived immediately")
	default:
	}

	select {
	case frame := <-rx:
		assert.Equal(t, []byte("late"), frame)
	case <-time.After(time.Second):
		t.Fatal("delayed frame never arrived")
	}
}

func TestReopenReplacesEndpoint(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	old := m.Open("c1")
	fresh := m.Open("c1")

	_, ok := <-old
	assert.False(t, ok, "prior endpoint must be closed on reopen")

	require.NoError(t, m.Send("c1", []byte("new")))
	select {
	case frame := <-fresh:
		assert.Equal(t, []byte("new"), frame)
	case <-time.After(time.Second):
		t.Fatal("frame not delivered to fresh endpoint")
	}
}

// Senders and connection teardown run on different goroutines; a frame
// racing a CloseConn must either deliver or fail, never send on the
// closed channel.
func TestSendConcurrentWithCloseConn(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	for i := 0; i < 100; i++ {
		m.Open("c1")
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = m.Send("c1", []byte("x"))
			}
		}()
		go func() {
			defer wg.Done()
			m.CloseConn("c1")
		}()
		wg.Wait()
	}
}

func TestClosedTransport(t *testing.T) {
	m := NewMemory()
	m.Open("c1")
	m.Close()

	assert.ErrorIs(t, m.Send("c1", []byte("x")), ErrClosed)
	assert.ErrorIs(t, m.Inject("c1", []byte("x")), ErrClosed)
}
