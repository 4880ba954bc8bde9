package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineRingEvictsOldest(t *testing.T) {
	r := newLineRing(2, 0)
	r.Append("a")
	r.Append("b")
	r.Append("c")

	assert.Equal(t, []string{"b", "c"}, r.Lines())
}

func TestLineRingTruncatesLongLines(t *testing.T) {
	r := newLineRing(4, 3)
	r.Append("abcdef")
	assert.Equal(t, []string{"abc"}, r.Lines())
}

func TestPaneWriterSplitsLines(t *testing.T) {
	r := newLineRing(10, 0)
	changes := 0
	w := &paneWriter{ring: r, changed: func() { changes++ }}

	_, _ = w.Write([]byte("Cluster: connecting"))
	require.Zero(t, changes, "partial line should be held")
	require.Empty(t, r.Lines())

	_, _ = w.Write([]byte("...\r\nIngest: ok\nWSJT"))
	assert.Equal(t, []string{"Cluster: connecting...", "Ingest: ok"}, r.Lines())
	assert.Equal(t, 1, changes)
}
