package timers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestArmAndPoll(t *testing.T) {
	s := NewSet()
	s.Arm(MtcAliveTimer, 10*time.Millisecond)
	assert.True(t, s.Armed(MtcAliveTimer))
	assert.False(t, s.Rung(MtcAliveTimer))

	s.Poll(time.Now())
	assert.False(t, s.Rung(MtcAliveTimer))

	time.Sleep(15 * time.Millisecond)
	s.Poll(time.Now())
	assert.True(t, s.Rung(MtcAliveTimer))
}

func TestDrainClearsRing(t *testing.T) {
	s := NewSet()
	s.Arm(BMCAccessTimer, time.Millisecond)
	time.Sleep(2 * time.Millisecond)
	s.Poll(time.Now())

	assert.True(t, s.Drain(BMCAccessTimer))
	assert.False(t, s.Rung(BMCAccessTimer))
	assert.False(t, s.Armed(BMCAccessTimer))
	// Draining twice in a row never reports rung again.
	assert.False(t, s.Drain(BMCAccessTimer))
}

func TestDrainLeavesPendingTimerArmed(t *testing.T) {
	s := NewSet()
	s.Arm(MtcTimer, time.Hour)

	// Polling Drain in a wait loop must not consume the deadline.
	assert.False(t, s.Drain(MtcTimer))
	assert.True(t, s.Armed(MtcTimer))
}

func TestCancelPreventsRing(t *testing.T) {
	s := NewSet()
	s.Arm(OfflineTimer, time.Millisecond)
	s.Cancel(OfflineTimer)
	time.Sleep(2 * time.Millisecond)
	s.Poll(time.Now())
	assert.False(t, s.Rung(OfflineTimer))
}

func TestCancelAllDisarmsEverySlot(t *testing.T) {
	s := NewSet()
	s.Arm(MtcTimer, time.Hour)
	s.Arm(OnlineTimer, time.Hour)
	s.CancelAll()
	assert.False(t, s.Armed(MtcTimer))
	assert.False(t, s.Armed(OnlineTimer))
}

func TestRemaining(t *testing.T) {
	s := NewSet()
	s.Arm(HTTPTimer, 50*time.Millisecond)
	rem := s.Remaining(HTTPTimer, time.Now())
	assert.True(t, rem > 0 && rem <= 50*time.Millisecond)

	assert.Equal(t, time.Duration(0), s.Remaining(MtcTimer, time.Now()))
}
