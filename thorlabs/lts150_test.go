package thorlabs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thzlab/lightscan/comm/commtest"
	"github.com/thzlab/lightscan/motion"
)

func newTestStage(t *testing.T, r commtest.Responder) (*LTS150, *commtest.Conn) {
	t.Helper()
	conn := commtest.New(r)
	l := NewLTS150("fake", 0)
	l.Maker = conn.Maker()
	l.Settle = 0
	return l, conn
}

func bridge() commtest.Responder {
	queries := 0
	return func(msg string) string {
		switch msg {
		case "query \r\n":
			queries++
			if queries == 1 {
				return "booting v1.2\r\n"
			}
			return "alive\r\n"
		case "init \r\n":
			return "done\r\n"
		}
		return ""
	}
}

func TestOpenHandshake(t *testing.T) {
	l, conn := newTestStage(t, bridge())
	require.NoError(t, l.Open())
	assert.True(t, l.Alive())
	assert.Equal(t, []string{"query \r\n", "query \r\n"}, conn.Writes())
}

func TestOpenHandshakeMismatchIsNotAnError(t *testing.T) {
	l, _ := newTestStage(t, func(string) string { return "???\r\n" })
	require.NoError(t, l.Open())
	assert.False(t, l.Alive())
}

func TestHome(t *testing.T) {
	l, conn := newTestStage(t, bridge())
	require.NoError(t, l.Open())
	require.NoError(t, l.Home(context.Background()))
	w := conn.Writes()
	assert.Equal(t, "init \r\n", w[len(w)-1])
}

func TestMoveWritesIntegerPosition(t *testing.T) {
	l, conn := newTestStage(t, nil)
	require.NoError(t, l.Open())
	require.NoError(t, l.Move(12.7))
	w := conn.Writes()
	assert.Equal(t, "go 12 \r\n", w[len(w)-1])
	assert.Equal(t, 12.7, l.Position())
}

func TestWaitForMovementSplitToken(t *testing.T) {
	l, conn := newTestStage(t, nil)
	require.NoError(t, l.Open())
	require.NoError(t, l.Move(3))
	conn.Inject("do")
	go func() {
		time.Sleep(150 * time.Millisecond)
		conn.Inject("ne\r\n")
	}()
	assert.NoError(t, l.WaitForMovement(context.Background()))
}

func TestWaitForMovementTimeout(t *testing.T) {
	l, _ := newTestStage(t, nil)
	l.MoveTimeout = 250 * time.Millisecond
	require.NoError(t, l.Open())
	require.NoError(t, l.Move(3))

	start := time.Now()
	err := l.WaitForMovement(context.Background())
	assert.True(t, errors.Is(err, motion.ErrMovementTimeout), "got %v", err)
	assert.True(t, motion.IsFault(err))
	assert.True(t, time.Since(start) < 2*time.Second)
}

func TestHomeTimeout(t *testing.T) {
	l, _ := newTestStage(t, nil)
	l.HomeTimeout = 200 * time.Millisecond
	require.NoError(t, l.Open())
	err := l.Home(context.Background())
	assert.True(t, errors.Is(err, motion.ErrHomingTimeout), "got %v", err)
}

func TestWaitForMovementCancel(t *testing.T) {
	l, _ := newTestStage(t, nil)
	require.NoError(t, l.Open())
	require.NoError(t, l.Move(3))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := l.WaitForMovement(ctx)
	assert.Equal(t, context.Canceled, err)
}

func TestMockTransit(t *testing.T) {
	m := NewMock(1000)
	require.NoError(t, m.Move(50))
	start := time.Now()
	require.NoError(t, m.WaitForMovement(context.Background()))
	assert.True(t, time.Since(start) >= 40*time.Millisecond)
	assert.Equal(t, 50.0, m.Position())
	assert.Equal(t, 1, m.Moves())

	require.NoError(t, m.Home(context.Background()))
	assert.True(t, m.Homed())
	assert.Equal(t, 0.0, m.Position())
}

func TestMockMoveTimeout(t *testing.T) {
	m := NewMock(10)
	m.MoveTimeout = 20 * time.Millisecond
	require.NoError(t, m.Move(100))
	err := m.WaitForMovement(context.Background())
	assert.True(t, errors.Is(err, motion.ErrMovementTimeout))
}

var (
	_ motion.Stage      = (*LTS150)(nil)
	_ motion.Aliver     = (*LTS150)(nil)
	_ motion.Positioner = (*LTS150)(nil)
	_ motion.Stage      = (*Mock)(nil)
)
