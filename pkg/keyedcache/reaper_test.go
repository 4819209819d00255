package keyedcache_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/dbconn/pkg/keyedcache"
)

func TestReaper_Trigger(t *testing.T) {
	t.Run("runs cleanup without starting the background task", func(t *testing.T) {
		var runs atomic.Int32
		r := keyedcache.NewReaper(func() { runs.Add(1) })

		r.Trigger()
		r.Trigger()

		assert.Equal(t, int32(2), runs.Load())
	})

	t.Run("cleanup panic is absorbed", func(t *testing.T) {
		r := keyedcache.NewReaper(func() { panic("tick failed") })

		assert.NotPanics(t, func() { r.Trigger() })
	})
}

func TestReaper_Background(t *testing.T) {
	t.Run("ticks on interval", func(t *testing.T) {
		var runs atomic.Int32
		r := keyedcache.NewReaper(
			func() { runs.Add(1) },
			keyedcache.WithReapInterval(10*time.Millisecond),
		)

		r.Start()
		defer r.Stop()

		assert.Eventually(t, func() bool {
			return runs.Load() >= 3
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("panicking cleanup does not terminate the task", func(t *testing.T) {
		var runs atomic.Int32
		r := keyedcache.NewReaper(
			func() {
				runs.Add(1)
				panic("tick failed")
			},
			keyedcache.WithReapInterval(10*time.Millisecond),
		)

		r.Start()
		defer r.Stop()

		assert.Eventually(t, func() bool {
			return runs.Load() >= 3
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("start and stop are idempotent", func(t *testing.T) {
		var runs atomic.Int32
		r := keyedcache.NewReaper(
			func() { runs.Add(1) },
			keyedcache.WithReapInterval(10*time.Millisecond),
		)

		r.Start()
		r.Start()
		r.Stop()
		r.Stop()

		settled := runs.Load()
		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, settled, runs.Load(), "no ticks after stop")

		// A stopped reaper can be started again.
		r.Start()
		assert.Eventually(t, func() bool {
			return runs.Load() > settled
		}, time.Second, 5*time.Millisecond)
		r.Stop()
	})

	t.Run("stop returns within its bound when cleanup hangs", func(t *testing.T) {
		release := make(chan struct{})
		started := make(chan struct{}, 1)
		r := keyedcache.NewReaper(func() {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
		})

		r.Start()
		<-started // the startup tick is now blocked

		done := make(chan struct{})
		go func() {
			r.Stop()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(7 * time.Second):
			t.Fatal("Stop did not return within its bounded timeout")
		}
		close(release)
	})
}
