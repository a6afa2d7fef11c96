package notify_test

import (
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mtr002/docjobs/internal/notify"
)

func TestCenterExpiresWithoutInteraction(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := notify.New(5 * time.Second)
		start := time.Now()

		first := c.Add(notify.SeverityInfo, "query started", "p-1")
		require.Equal(t, start.UTC(), first.CreatedAt)

		time.Sleep(2 * time.Second)
		c.Add(notify.SeverityError, "summary failed", "p-2")
		require.Len(t, c.List(), 2)

		time.Sleep(3*time.Second + time.Millisecond)
		synctest.Wait()
		list := c.List()
		require.Len(t, list, 1)
		require.Equal(t, "summary failed", list[0].Message)

		time.Sleep(2 * time.Second)
		synctest.Wait()
		require.Zero(t, c.Len())
	})
}

func TestCenterOrderAndCounts(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := notify.New(time.Minute)
		c.Add(notify.SeverityInfo, "a", "")
		c.Add(notify.SeverityError, "b", "p-1")
		c.Add(notify.SeveritySuccess, "c", "p-2")
		c.Add(notify.SeverityError, "d", "p-3")

		list := c.List()
		require.Len(t, list, 4)
		require.Equal(t, []string{"a", "b", "c", "d"}, []string{list[0].Message, list[1].Message, list[2].Message, list[3].Message})
		require.Equal(t, 2, c.ErrorCount())

		require.True(t, c.Remove(list[1].ID))
		require.False(t, c.Remove(list[1].ID))
		require.Equal(t, 1, c.ErrorCount())

		c.Clear()
		require.Zero(t, c.Len())
		require.Zero(t, c.ErrorCount())

		// cleared entries never come back and stopped timers never fire
		time.Sleep(2 * time.Minute)
		synctest.Wait()
		require.Zero(t, c.Len())
	})
}

func TestCenterClock(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	c := notify.New(0, notify.WithClock(func() time.Time { return fixed }))
	require.Equal(t, notify.DefaultTTL, c.TTL())

	n := c.Add(notify.SeverityWarning, "cancelled", "p-9")
	require.Equal(t, fixed, n.CreatedAt)
	require.Equal(t, "p-9", n.ProcessID)
	require.NotEmpty(t, n.ID)
	c.Clear()
}

func TestCenterRemoveHook(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		c := notify.New(5 * time.Second)
		var removed []string
		c.OnRemove(func(n notify.Notification) { removed = append(removed, n.Message) })

		c.Add(notify.SeverityInfo, "expires", "p-1")
		early := c.Add(notify.SeverityError, "dismissed", "p-2")
		time.Sleep(time.Second)
		c.Add(notify.SeverityInfo, "later", "p-3")

		require.True(t, c.Remove(early.ID))
		require.Equal(t, []string{"dismissed"}, removed)

		time.Sleep(4*time.Second + time.Millisecond)
		synctest.Wait()
		require.Equal(t, []string{"dismissed", "expires"}, removed)

		time.Sleep(time.Second)
		synctest.Wait()
		require.Equal(t, []string{"dismissed", "expires", "later"}, removed)

		c.Add(notify.SeverityInfo, "gone with clear", "")
		c.Clear()
		time.Sleep(time.Minute)
		synctest.Wait()
		require.Len(t, removed, 3)
	})
}
