package domain

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FreePeak/golang-sockjs-server-sdk/internal/infrastructure/logging"
	"github.com/FreePeak/golang-sockjs-server-sdk/internal/protocol"
)

// fakeTransport stands in for a transport handle in lock tests.
type fakeTransport struct {
	heartbeats atomic.Int32
	fail       bool
}

func (f *fakeTransport) SendHeartbeat() error {
	f.heartbeats.Add(1)
	if f.fail {
		return errors.New("write failed")
	}
	return nil
}

// recordingHandler captures connection callbacks.
type recordingHandler struct {
	opened   int
	closed   int
	messages []interface{}
}

func (h *recordingHandler) OnOpen(conn *Connection)                         { h.opened++ }
func (h *recordingHandler) OnMessage(conn *Connection, message interface{}) { h.messages = append(h.messages, message) }
func (h *recordingHandler) OnClose(conn *Connection)                        { h.closed++ }

func newTestSession(id string, opts ...SessionOption) *Session {
	opts = append([]SessionOption{
		WithHeartbeatInterval(0),
		WithSessionLogger(logging.NewNop()),
	}, opts...)

	return NewSession(id, opts...)
}

func TestSessionStates(t *testing.T) {
	t.Run("NewSessionIsNew", func(t *testing.T) {
		s := newTestSession("abc")

		assert.True(t, s.New())
		assert.Equal(t, SessionNew, s.State())
	})

	t.Run("OpenTransitions", func(t *testing.T) {
		s := newTestSession("abc")
		handler := &recordingHandler{}
		s.Bind(NewConnection(s, handler, nil))

		require.NoError(t, s.Open())

		assert.True(t, s.Opened())
		assert.Equal(t, 1, handler.opened)
	})

	t.Run("OpenTwiceFails", func(t *testing.T) {
		s := newTestSession("abc")

		require.NoError(t, s.Open())
		assert.ErrorIs(t, s.Open(), ErrSessionNotNew)
	})

	t.Run("OpenAfterCloseFails", func(t *testing.T) {
		s := newTestSession("abc")
		s.Close()

		assert.ErrorIs(t, s.Open(), ErrSessionNotNew)
	})

	t.Run("CloseDispatchesOnce", func(t *testing.T) {
		s := newTestSession("abc")
		handler := &recordingHandler{}
		s.Bind(NewConnection(s, handler, nil))

		require.NoError(t, s.Open())

		s.Close()
		s.Close()
		s.Interrupt()

		assert.True(t, s.Closed())
		assert.Equal(t, 1, handler.closed)
	})

	t.Run("InterruptIsTerminal", func(t *testing.T) {
		s := newTestSession("abc")

		s.Interrupt()

		assert.True(t, s.Interrupted())

		// terminal states are sticky
		s.Close()
		assert.True(t, s.Interrupted())
	})
}

func TestSessionLock(t *testing.T) {
	t.Run("AcquireBoth", func(t *testing.T) {
		s := newTestSession("abc")
		owner := &fakeTransport{}

		require.NoError(t, s.Lock(owner, true, true))

		assert.Equal(t, TransportHandle(owner), s.ReadOwner())
		assert.Equal(t, TransportHandle(owner), s.WriteOwner())
	})

	t.Run("SecondReaderRejected", func(t *testing.T) {
		s := newTestSession("abc")
		first := &fakeTransport{}
		second := &fakeTransport{}

		require.NoError(t, s.Lock(first, true, false))

		err := s.Lock(second, true, false)

		var unavailable *SessionUnavailableError
		require.True(t, errors.As(err, &unavailable))
		assert.Equal(t, protocol.ConnAlreadyOpen, unavailable.Status)
	})

	t.Run("ReentryIsIdempotent", func(t *testing.T) {
		s := newTestSession("abc")
		owner := &fakeTransport{}

		require.NoError(t, s.Lock(owner, true, true))
		require.NoError(t, s.Lock(owner, true, true))
	})

	t.Run("IndependentChannels", func(t *testing.T) {
		s := newTestSession("abc")
		reader := &fakeTransport{}
		writer := &fakeTransport{}

		require.NoError(t, s.Lock(reader, true, false))
		require.NoError(t, s.Lock(writer, false, true))
	})

	t.Run("FailureLeavesOwnersUntouched", func(t *testing.T) {
		s := newTestSession("abc")
		reader := &fakeTransport{}
		intruder := &fakeTransport{}

		require.NoError(t, s.Lock(reader, true, false))

		// intruder wants both; read is taken, so neither may change hands
		err := s.Lock(intruder, true, true)
		require.Error(t, err)

		assert.Equal(t, TransportHandle(reader), s.ReadOwner())
		assert.Nil(t, s.WriteOwner())
	})

	t.Run("ClosedSessionRejectsLock", func(t *testing.T) {
		s := newTestSession("abc")
		s.Close()

		err := s.Lock(&fakeTransport{}, true, false)

		var unavailable *SessionUnavailableError
		require.True(t, errors.As(err, &unavailable))
		assert.Equal(t, protocol.ConnClosed, unavailable.Status)
	})

	t.Run("InterruptedSessionRejectsLock", func(t *testing.T) {
		s := newTestSession("abc")
		s.Interrupt()

		err := s.Lock(&fakeTransport{}, true, false)

		var unavailable *SessionUnavailableError
		require.True(t, errors.As(err, &unavailable))
		assert.Equal(t, protocol.ConnInterrupted, unavailable.Status)
	})

	t.Run("UnlockOnlyByOwner", func(t *testing.T) {
		s := newTestSession("abc")
		owner := &fakeTransport{}
		stranger := &fakeTransport{}

		require.NoError(t, s.Lock(owner, true, false))

		s.Unlock(stranger, true, false)
		assert.Equal(t, TransportHandle(owner), s.ReadOwner())

		s.Unlock(owner, true, false)
		assert.Nil(t, s.ReadOwner())
	})
}

func TestSessionMessages(t *testing.T) {
	t.Run("OrderPreserved", func(t *testing.T) {
		s := newTestSession("abc")

		s.AddMessages("1", "2")
		s.AddMessages("3")

		messages := s.GetMessages(context.Background(), 10*time.Millisecond)

		assert.Equal(t, []interface{}{"1", "2", "3"}, messages)
	})

	t.Run("EmptyAfterDrain", func(t *testing.T) {
		s := newTestSession("abc")
		s.AddMessages("1")

		_ = s.GetMessages(context.Background(), 10*time.Millisecond)
		messages := s.GetMessages(context.Background(), 10*time.Millisecond)

		assert.Empty(t, messages)
	})

	t.Run("BlocksUntilFirstMessage", func(t *testing.T) {
		s := newTestSession("abc")

		go func() {
			time.Sleep(20 * time.Millisecond)
			s.AddMessages("late")
		}()

		messages := s.GetMessages(context.Background(), time.Second)

		assert.Equal(t, []interface{}{"late"}, messages)
	})

	t.Run("TimeoutReturnsEmpty", func(t *testing.T) {
		s := newTestSession("abc")

		start := time.Now()
		messages := s.GetMessages(context.Background(), 20*time.Millisecond)

		assert.Empty(t, messages)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("ContextCancelReturnsEmpty", func(t *testing.T) {
		s := newTestSession("abc")
		ctx, cancel := context.WithCancel(context.Background())

		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		messages := s.GetMessages(ctx, time.Second)

		assert.Empty(t, messages)
	})

	t.Run("CloseWakesBlockedReader", func(t *testing.T) {
		s := newTestSession("abc")

		go func() {
			time.Sleep(10 * time.Millisecond)
			s.Close()
		}()

		start := time.Now()
		_ = s.GetMessages(context.Background(), time.Second)

		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("DispatchInOrder", func(t *testing.T) {
		s := newTestSession("abc")
		handler := &recordingHandler{}
		s.Bind(NewConnection(s, handler, nil))

		s.Dispatch("a", "b")

		assert.Equal(t, []interface{}{"a", "b"}, handler.messages)
	})

	t.Run("DispatchWithoutConnectionDrops", func(t *testing.T) {
		s := newTestSession("abc")

		assert.NotPanics(t, func() {
			s.Dispatch("lost")
		})
	})
}

func TestSessionExpiry(t *testing.T) {
	t.Run("FreshSessionNotExpired", func(t *testing.T) {
		s := newTestSession("abc", WithTTL(time.Minute))

		assert.False(t, s.HasExpired(time.Now()))
	})

	t.Run("ExpiresAfterTTL", func(t *testing.T) {
		s := newTestSession("abc", WithTTL(time.Minute))

		assert.True(t, s.HasExpired(time.Now().Add(2*time.Minute)))
	})

	t.Run("TouchExtends", func(t *testing.T) {
		s := newTestSession("abc", WithTTL(50*time.Millisecond))

		time.Sleep(30 * time.Millisecond)
		s.Touch()

		assert.False(t, s.HasExpired(time.Now().Add(30*time.Millisecond)))
	})

	t.Run("AddMessagesBumpsTTL", func(t *testing.T) {
		s := newTestSession("abc", WithTTL(50*time.Millisecond))

		time.Sleep(30 * time.Millisecond)
		s.AddMessages("x")

		assert.False(t, s.HasExpired(time.Now().Add(30*time.Millisecond)))
	})

	t.Run("TerminalSessionsAlwaysExpired", func(t *testing.T) {
		s := newTestSession("abc", WithTTL(time.Hour))
		s.Close()

		assert.True(t, s.HasExpired(time.Now()))
	})

	t.Run("ZeroExpiryNeverExpires", func(t *testing.T) {
		s := newTestSession("abc")
		s.SetExpiry(time.Time{})

		assert.False(t, s.HasExpired(time.Now().Add(24*time.Hour)))
	})
}

func TestSessionHeartbeat(t *testing.T) {
	t.Run("ReaderReceivesHeartbeats", func(t *testing.T) {
		s := NewSession("abc",
			WithHeartbeatInterval(10*time.Millisecond),
			WithSessionLogger(logging.NewNop()),
		)
		reader := &fakeTransport{}

		require.NoError(t, s.Lock(reader, true, false))
		require.NoError(t, s.Open())

		assert.Eventually(t, func() bool {
			return reader.heartbeats.Load() > 0
		}, time.Second, 5*time.Millisecond)

		s.Close()
	})

	t.Run("StopsWhenSendFails", func(t *testing.T) {
		s := NewSession("abc",
			WithHeartbeatInterval(5*time.Millisecond),
			WithSessionLogger(logging.NewNop()),
		)
		reader := &fakeTransport{fail: true}

		require.NoError(t, s.Lock(reader, true, false))
		require.NoError(t, s.Open())

		assert.Eventually(t, func() bool {
			return reader.heartbeats.Load() == 1
		}, time.Second, 5*time.Millisecond)

		time.Sleep(30 * time.Millisecond)
		assert.Equal(t, int32(1), reader.heartbeats.Load())

		s.Close()
	})
}
