package counter

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndDescribe(t *testing.T) {
	c := New()
	assert.Equal(t, "`rep` hasn't been used, yet...", c.Describe("rep"))

	c.Record("rep", false)
	c.Record("REP", false)
	c.Record("rep", true)
	assert.Equal(t, "`rep` has been used 2 times since last reboot.", c.Describe("Rep"))

	c.RecordError("rep", false)
	assert.Equal(t, "`rep` has been used 2 times since last reboot, and sent an error 1 time.", c.Describe("rep"))
}

func TestErrorBeforeUse(t *testing.T) {
	c := New()
	c.RecordError("lyrics", false)
	usage, ok := c.Get("lyrics")
	require.True(t, ok)
	assert.Equal(t, int64(1), usage.Count)
	assert.Equal(t, int64(1), usage.Errors)
}

func TestSnapshotOrderAndAll(t *testing.T) {
	c := New()
	for i := 0; i < 1500; i++ {
		c.Record("ask", false)
	}
	c.Record("shorten", false)
	c.Record("count", false)

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "ask", snap[0].Command)
	assert.Equal(t, "count", snap[1].Command)

	all := c.DescribeAll()
	assert.Contains(t, all, "- `ask`: Used 1,500 times.\n")
	assert.Contains(t, all, "- `shorten`: Used 1 time.\n")
}

func TestConcurrentRecords(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Record("ping", false)
		}()
	}
	wg.Wait()
	usage, _ := c.Get("ping")
	assert.Equal(t, int64(50), usage.Count)
}
