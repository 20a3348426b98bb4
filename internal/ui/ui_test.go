package ui

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressHandle_CompletesWithFailures(t *testing.T) {
	pm := newProgressManager(io.Discard)
	h := pm.Register("book")

	h.Update(1, 0, 4)
	h.Update(3, 1, 4)
	assert.EqualValues(t, 4, h.bar.Current())
	assert.EqualValues(t, 1, h.failed.Load())

	h.MarkDone()
	h.Update(0, 0, 10)
	assert.EqualValues(t, 4, h.total.Load(), "updates after MarkDone are ignored")

	pm.Close()
	assert.True(t, h.bar.Completed())
}

func TestProgressHandle_AbortsWhenShort(t *testing.T) {
	pm := newProgressManager(io.Discard)
	h := pm.Register("book")

	h.Update(1, 0, 5)
	h.MarkDone()
	pm.Close()

	assert.False(t, h.bar.Completed())
	assert.True(t, h.bar.Aborted())
}

func TestLogger(t *testing.T) {
	l, err := NewLogger(true)
	require.NoError(t, err)
	assert.True(t, l.Debug)
	assert.NotNil(t, l.Zap())

	n := NopLogger()
	n.Infof("quiet %d", 1)
	n.Sync()
}
