package main

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaemonCronSkipsOverlappingRuns(t *testing.T) {
	c := newDaemonCron(zerolog.Nop())

	var started atomic.Int32
	release := make(chan struct{})
	id, err := c.AddFunc("@hourly", func() {
		started.Add(1)
		<-release
	})
	require.NoError(t, err)
	job := c.Entry(id).WrappedJob

	done := make(chan struct{})
	go func() {
		job.Run()
		close(done)
	}()
	require.Eventually(t, func() bool { return started.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	// A tick while the first run is busy returns without running the job.
	job.Run()
	assert.Equal(t, int32(1), started.Load())

	close(release)
	<-done
	job.Run()
	assert.Equal(t, int32(2), started.Load())
}
