package main

import (
	"testing"

	"github.com/smallbiznis/meterflow/internal/config"
	"github.com/smallbiznis/meterflow/internal/scheduler"
	"github.com/stretchr/testify/assert"
)

func TestCheckPassRejectsFlushWithMemoryBuffer(t *testing.T) {
	memory := config.Config{BufferBackend: config.BufferBackendMemory}
	assert.ErrorIs(t, checkPass(scheduler.JobFlushEvents, memory), errFlushNeedsSharedBuffer)
	assert.NoError(t, checkPass(scheduler.JobEndRenew, memory))

	shared := config.Config{BufferBackend: config.BufferBackendRedis}
	assert.NoError(t, checkPass(scheduler.JobFlushEvents, shared))
}

func TestPassCommandRejectsUnknownPass(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"pass", "rollup"})
	assert.Error(t, cmd.Execute())
}
