package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dxfeed/transport"
	"dxfeed/transport/transporttest"
)

func TestParseHeadingLine(t *testing.T) {
	h, d, ok := ParseHeadingLine("UT7LW Ukraine-UR: 23 degs - dist: 6258 mi, 10071 km Reciprocal heading: 307 degs")
	require.True(t, ok)
	assert.Equal(t, 23.0, h)
	assert.Equal(t, 6258.0, d)

	h, d, ok = ParseHeadingLine("JA Japan: 318.5 DEGS - dist: 5800 MI")
	require.True(t, ok)
	assert.Equal(t, 318.5, h)
	assert.Equal(t, 5800.0, d)

	_, _, ok = ParseHeadingLine("UT7LW Ukraine-UR: 23degs - dist: 6258 miles")
	assert.False(t, ok)
}

func TestQueryHeadingReturnsSkippedLines(t *testing.T) {
	st := transporttest.NewStream()
	spotLine := "DX de W1AW:  7010.0  K1ABC  CQ   1130Z"
	st.Reply("show/heading UT7LW", spotLine, "UT7LW Ukraine-UR: 23 degs - dist: 6258 mi")

	h, d, skipped, err := QueryHeading(st, DialectFor(DxSpider), "UT7LW", HeadingQuery{})
	require.NoError(t, err)
	assert.Equal(t, 23.0, h)
	assert.Equal(t, 6258.0, d)
	assert.Equal(t, []string{spotLine}, skipped)
}

func TestQueryHeadingNoAnswer(t *testing.T) {
	st := transporttest.NewStream()
	st.Reply("show/heading UT7LW", "some chatter")

	_, _, skipped, err := QueryHeading(st, DialectFor(DxSpider), "UT7LW", HeadingQuery{})
	require.ErrorIs(t, err, ErrGeocodeFailed)
	assert.Equal(t, []string{"some chatter"}, skipped)
	assert.True(t, st.IsConnected())
}

func TestQueryHeadingBoundedLines(t *testing.T) {
	st := transporttest.NewStream()
	var noise []string
	for i := 0; i < 10; i++ {
		noise = append(noise, "noise")
	}
	st.Reply("show/heading UT7LW", append(noise, "UT7LW: 23 degs - dist: 6258 mi")...)

	_, _, skipped, err := QueryHeading(st, DialectFor(DxSpider), "UT7LW", HeadingQuery{MaxLines: 8})
	require.ErrorIs(t, err, ErrGeocodeFailed)
	assert.Len(t, skipped, 8)
}

func TestQueryHeadingConnectionLoss(t *testing.T) {
	st := transporttest.NewStream()
	st.Drop()
	_, _, _, err := QueryHeading(st, DialectFor(DxSpider), "UT7LW", HeadingQuery{})
	require.ErrorIs(t, err, transport.ErrClosed)
	assert.NotErrorIs(t, err, ErrGeocodeFailed)
}

func TestQueryHeadingSkipsAnswerForAnotherCall(t *testing.T) {
	st := transporttest.NewStream()
	late := "JR1FYS Japan-JA: 23 degs - dist: 6258 mi"
	st.Reply("show/heading K1ABC", late, "K1ABC United-States-K: 70 degs - dist: 1700 mi")

	h, d, skipped, err := QueryHeading(st, DialectFor(DxSpider), "K1ABC", HeadingQuery{})
	require.NoError(t, err)
	assert.Equal(t, 70.0, h)
	assert.Equal(t, 1700.0, d)
	assert.Equal(t, []string{late}, skipped)
}

func TestQueryHeadingOnlyStaleAnswerFails(t *testing.T) {
	st := transporttest.NewStream()
	st.Reply("show/heading k1abc", "JR1FYS Japan-JA: 23 degs - dist: 6258 mi")

	_, _, skipped, err := QueryHeading(st, DialectFor(DxSpider), "k1abc", HeadingQuery{})
	require.ErrorIs(t, err, ErrGeocodeFailed)
	assert.Len(t, skipped, 1)
}

func TestQueryHeadingAcceptsMatchedPrefix(t *testing.T) {
	st := transporttest.NewStream()
	st.Reply("show/heading EA8/DL1ABC", "EA8 Canary-Islands-EA8: 210 degs - dist: 3500 mi")

	h, _, skipped, err := QueryHeading(st, DialectFor(DxSpider), "EA8/DL1ABC", HeadingQuery{})
	require.NoError(t, err)
	assert.Equal(t, 210.0, h)
	assert.Empty(t, skipped)
}
