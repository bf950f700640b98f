package webvtt

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteEmission(t *testing.T) {
	var buf bytes.Buffer
	n, err := Write(&buf, []Cue{
		{Start: 0.0, End: 5.2, Text: "Hello"},
		{Start: 5.2, End: 10.5, Text: "World"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	want := "WEBVTT\n\n" +
		"1\n00:00:00.000 --> 00:00:05.200\nHello\n\n" +
		"2\n00:00:05.200 --> 00:00:10.500\nWorld\n\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteSanitizesArrow(t *testing.T) {
	var buf bytes.Buffer
	_, err := Write(&buf, []Cue{{Start: 0, End: 1, Text: "a --> b"}})
	require.NoError(t, err)

	body := strings.SplitN(buf.String(), "\n\n", 2)[1]
	assert.Contains(t, body, "a → b")
	// Only the timing line keeps the literal arrow.
	assert.Equal(t, 1, strings.Count(body, "-->"))
}

func TestWriteRejectsInvertedCues(t *testing.T) {
	var buf bytes.Buffer
	n, err := Write(&buf, []Cue{
		{Start: 5.0, End: 5.0, Text: "zero length"},
		{Start: 8.0, End: 6.0, Text: "inverted"},
		{Start: 1.0, End: 2.0, Text: "kept"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// The surviving cue is renumbered from 1.
	assert.Contains(t, buf.String(), "1\n00:00:01.000 --> 00:00:02.000\nkept\n\n")
	assert.NotContains(t, buf.String(), "inverted")
}

func TestWriteClampsNegativeTimestamps(t *testing.T) {
	var buf bytes.Buffer
	n, err := Write(&buf, []Cue{{Start: -1.5, End: 2.0, Text: "clamped"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, buf.String(), "00:00:00.000 --> 00:00:02.000")
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00.000"},
		{5.2, "00:00:05.200"},
		{59.999, "00:00:59.999"},
		{61.5, "00:01:01.500"},
		{3661.042, "01:01:01.042"},
		{-3, "00:00:00.000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatTimestamp(tt.seconds), "seconds=%v", tt.seconds)
	}
}

func TestRoundTrip(t *testing.T) {
	in := []Cue{
		{Start: 0.0, End: 5.2, Text: "Hello"},
		{Start: 5.2, End: 10.5, Text: "multi\nline cue"},
		{Start: 12.0, End: 15.75, Text: "last"},
	}

	var buf bytes.Buffer
	_, err := Write(&buf, in)
	require.NoError(t, err)

	out, err := Parse(&buf)
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.InDelta(t, in[i].Start, out[i].Start, 1e-3)
		assert.InDelta(t, in[i].End, out[i].End, 1e-3)
		assert.Equal(t, in[i].Text, out[i].Text)
	}
}

func TestParseRejectsMissingHeader(t *testing.T) {
	_, err := Parse(strings.NewReader("1\n00:00:00.000 --> 00:00:01.000\nhi\n\n"))
	assert.Error(t, err)
}
