package autorecovery

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/cgts/mtce/pkg/types"
)

func thresholds() Thresholds {
	return Thresholds{
		Threshold: map[types.ARCause]int{types.ARCauseGoEnable: 2},
		Interval:  map[types.ARCause]time.Duration{types.ARCauseGoEnable: 10 * time.Second},
	}
}

func TestManageLatchesPastThreshold(t *testing.T) {
	h := types.NewHostRecord("worker-0", uuid.New(), types.NodeTypeWorker)
	th := thresholds()

	assert.Equal(t, Pass, Manage(h, types.ARCauseGoEnable, "task", th))
	assert.Equal(t, Pass, Manage(h, types.ARCauseGoEnable, "task", th))
	assert.True(t, Enabled(h))

	assert.Equal(t, Fail, Manage(h, types.ARCauseGoEnable, "task", th))
	assert.True(t, h.AR.Disabled)
	assert.Equal(t, "task", h.AR.TaskString)
	assert.False(t, Enabled(h))
}

func TestCausesCountIndependently(t *testing.T) {
	h := types.NewHostRecord("worker-0", uuid.New(), types.NodeTypeWorker)
	th := thresholds()

	assert.Equal(t, Pass, Manage(h, types.ARCauseGoEnable, "t", th))
	assert.Equal(t, Pass, Manage(h, types.ARCauseConfig, "t", th))
	assert.Equal(t, 1, h.AR.Count[types.ARCauseGoEnable])
	assert.Equal(t, 1, h.AR.Count[types.ARCauseConfig])
	assert.Equal(t, types.ARCauseConfig, h.AR.LastCause)
}

func TestEnableClearsCountsAndLatch(t *testing.T) {
	h := types.NewHostRecord("worker-0", uuid.New(), types.NodeTypeWorker)
	th := thresholds()
	for i := 0; i < 3; i++ {
		Manage(h, types.ARCauseGoEnable, "task", th)
	}
	assert.True(t, h.AR.Disabled)

	Enable(h)
	assert.False(t, h.AR.Disabled)
	assert.Equal(t, 0, h.AR.Count[types.ARCauseGoEnable])
	assert.Empty(t, h.AR.TaskString)
	assert.True(t, Enabled(h))
}

func TestIntervalFallsBackToDefault(t *testing.T) {
	th := thresholds()
	assert.Equal(t, 10*time.Second, Interval(types.ARCauseGoEnable, th))
	assert.Equal(t, 30*time.Second, Interval(types.ARCauseLUKS, th), "unconfigured cause uses the default")
}
