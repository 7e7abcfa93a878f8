package scheduler_test

import (
	"slices"
	"testing"
	"time"

	"github.com/argus-labs/gemrush/pkg/scheduler"
	"github.com/argus-labs/gemrush/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestScheduler_FiresInDeadlineOrder(t *testing.T) {
	t.Parallel()

	s := scheduler.New(epoch)
	var fired []string
	s.After(300*time.Millisecond, func() { fired = append(fired, "c") })
	s.After(100*time.Millisecond, func() { fired = append(fired, "a") })
	s.After(200*time.Millisecond, func() { fired = append(fired, "b") })
	s.After(100*time.Millisecond, func() { fired = append(fired, "a2") })

	s.Advance(150 * time.Millisecond)
	assert.Equal(t, []string{"a", "a2"}, fired)
	assert.Equal(t, 2, s.Len())

	s.Advance(time.Second)
	assert.Equal(t, []string{"a", "a2", "b", "c"}, fired)
	assert.Zero(t, s.Len())
	assert.Equal(t, epoch.Add(1150*time.Millisecond), s.Now())
}

func TestScheduler_NowIsDeadlineDuringCallback(t *testing.T) {
	t.Parallel()

	s := scheduler.New(epoch)
	var chained []time.Time
	s.After(500*time.Millisecond, func() {
		chained = append(chained, s.Now())
		s.After(3*time.Second, func() {
			chained = append(chained, s.Now())
			s.After(2*time.Second, func() {
				chained = append(chained, s.Now())
			})
		})
	})

	// One big jump still fires the whole chain at the exact deadlines.
	s.Advance(10 * time.Second)
	require.Len(t, chained, 3)
	assert.Equal(t, epoch.Add(500*time.Millisecond), chained[0])
	assert.Equal(t, epoch.Add(3500*time.Millisecond), chained[1])
	assert.Equal(t, epoch.Add(5500*time.Millisecond), chained[2])
}

func TestScheduler_Cancel(t *testing.T) {
	t.Parallel()

	s := scheduler.New(epoch)
	fired := false
	h := s.After(time.Second, func() { fired = true })
	assert.True(t, h.Pending())
	assert.True(t, h.Cancel())
	assert.False(t, h.Pending())
	assert.False(t, h.Cancel(), "second cancel is a no-op")

	s.Advance(2 * time.Second)
	assert.False(t, fired)

	var nilHandle *scheduler.Handle
	assert.False(t, nilHandle.Cancel())
	assert.False(t, nilHandle.Pending())
}

func TestScheduler_DeferRunsNextTick(t *testing.T) {
	t.Parallel()

	s := scheduler.New(epoch)
	var order []string
	s.Defer(func() {
		order = append(order, "first")
		s.Defer(func() { order = append(order, "nested") })
	})
	s.Defer(func() { order = append(order, "second") })
	assert.Equal(t, 2, s.PendingDeferred())
	assert.Empty(t, order, "deferred actions never run inline")

	s.Advance(0)
	assert.Equal(t, []string{"first", "second"}, order)

	s.Advance(0)
	assert.Equal(t, []string{"first", "second", "nested"}, order)
}

func TestScheduler_DeferBeforeTimers(t *testing.T) {
	t.Parallel()

	s := scheduler.New(epoch)
	var order []string
	s.After(0, func() { order = append(order, "timer") })
	s.Defer(func() { order = append(order, "deferred") })
	s.Advance(0)
	assert.Equal(t, []string{"deferred", "timer"}, order)
}

func TestSlot_ArmCancelsPrevious(t *testing.T) {
	t.Parallel()

	s := scheduler.New(epoch)
	var slot scheduler.Slot
	assert.False(t, slot.Pending())

	var fired []int
	slot.Arm(s, time.Second, func() { fired = append(fired, 1) })
	slot.Arm(s, 2*time.Second, func() { fired = append(fired, 2) })
	assert.Equal(t, 1, s.Len(), "slot holds at most one live timer")

	deadline, ok := slot.Deadline()
	require.True(t, ok)
	assert.Equal(t, epoch.Add(2*time.Second), deadline)

	s.Advance(5 * time.Second)
	assert.Equal(t, []int{2}, fired)
	assert.False(t, slot.Pending())
}

func TestSlot_RearmFromOwnCallback(t *testing.T) {
	t.Parallel()

	s := scheduler.New(epoch)
	var slot scheduler.Slot
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			slot.Arm(s, time.Second, tick)
		}
	}
	slot.Arm(s, time.Second, tick)

	s.Advance(10 * time.Second)
	assert.Equal(t, 3, count)
	assert.False(t, slot.Pending())
	assert.False(t, slot.Cancel())
}

// -------------------------------------------------------------------------------------------------
// Model-based fuzzing
// -------------------------------------------------------------------------------------------------
// Random sequences of schedule/cancel/advance are checked against a naive model that sorts every
// pending timer on each advance.
// -------------------------------------------------------------------------------------------------

func TestScheduler_ModelFuzz(t *testing.T) {
	t.Parallel()
	prng := testutils.NewRand(t)

	const (
		opsMax    = 1 << 12
		opAfter   = "after"
		opCancel  = "cancel"
		opAdvance = "advance"
	)
	weights := testutils.RandOpWeights(prng, []string{opAfter, opCancel, opAdvance})

	type modelTimer struct {
		id       int
		deadline time.Time
		seq      int
	}

	impl := scheduler.New(epoch)
	handles := map[int]*scheduler.Handle{}
	model := map[int]modelTimer{}
	var implFired []int
	now := epoch
	nextID := 0

	for range opsMax {
		switch testutils.RandWeightedOp(prng, weights) {
		case opAfter:
			id := nextID
			nextID++
			d := time.Duration(prng.IntN(1000)) * time.Millisecond
			handles[id] = impl.After(d, func() { implFired = append(implFired, id) })
			model[id] = modelTimer{id: id, deadline: now.Add(d), seq: id}
		case opCancel:
			if len(handles) == 0 {
				continue
			}
			id := testutils.RandMapKey(prng, handles)
			_, pending := model[id]
			assert.Equal(t, pending, handles[id].Cancel())
			delete(model, id)
			delete(handles, id)
		case opAdvance:
			now = now.Add(time.Duration(prng.IntN(500)) * time.Millisecond)
			var due []modelTimer
			for _, mt := range model {
				if !mt.deadline.After(now) {
					due = append(due, mt)
				}
			}
			slices.SortFunc(due, func(a, b modelTimer) int {
				if c := a.deadline.Compare(b.deadline); c != 0 {
					return c
				}
				return a.seq - b.seq
			})
			implFired = implFired[:0]
			impl.Tick(now)

			require.Len(t, implFired, len(due))
			for i, mt := range due {
				assert.Equal(t, mt.id, implFired[i])
				delete(model, mt.id)
				delete(handles, mt.id)
			}
		default:
			panic("unreachable")
		}
		assert.Equal(t, len(model), impl.Len())
	}
}
