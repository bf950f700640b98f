package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeepIntervals(t *testing.T) {
	tests := []struct {
		name     string
		silences []Span
		duration float64
		want     []Span
	}{
		{
			name:     "two interior silences",
			silences: []Span{{2.0, 3.0}, {7.0, 8.0}},
			duration: 10.0,
			want:     []Span{{0.0, 2.0}, {3.0, 7.0}, {8.0, 10.0}},
		},
		{
			name:     "no silence keeps whole timeline",
			silences: nil,
			duration: 42.5,
			want:     []Span{{0.0, 42.5}},
		},
		{
			name:     "entirely silent",
			silences: []Span{{0.0, 10.0}},
			duration: 10.0,
			want:     []Span{},
		},
		{
			name:     "silence at both edges",
			silences: []Span{{0.0, 1.0}, {9.0, 10.0}},
			duration: 10.0,
			want:     []Span{{1.0, 9.0}},
		},
		{
			name:     "unsorted overlapping silences are normalized",
			silences: []Span{{5.0, 7.0}, {1.0, 3.0}, {2.0, 4.0}},
			duration: 10.0,
			want:     []Span{{0.0, 1.0}, {4.0, 5.0}, {7.0, 10.0}},
		},
		{
			name:     "silence extending past duration is clamped",
			silences: []Span{{8.0, 15.0}},
			duration: 10.0,
			want:     []Span{{0.0, 8.0}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := KeepIntervals(tt.silences, tt.duration)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeepIntervalsPartition(t *testing.T) {
	// The union of silences and keep-intervals covers [0, duration] exactly.
	silences := []Span{{2.0, 3.0}, {7.0, 8.0}}
	duration := 10.0

	keeps := KeepIntervals(silences, duration)
	total := 0.0
	for _, s := range Normalize(silences, duration) {
		total += s.Duration()
	}
	for _, k := range keeps {
		total += k.Duration()
	}
	assert.InDelta(t, duration, total, 1e-9)
}

func TestBuildMapping(t *testing.T) {
	keeps := []Span{{0.0, 2.0}, {3.0, 7.0}, {8.0, 10.0}}
	m := BuildMapping(keeps)

	require.Len(t, m, 3)
	assert.Equal(t, Mapped{CompStart: 0.0, CompEnd: 2.0, OrigStart: 0.0, OrigEnd: 2.0}, m[0])
	assert.Equal(t, Mapped{CompStart: 2.0, CompEnd: 6.0, OrigStart: 3.0, OrigEnd: 7.0}, m[1])
	assert.Equal(t, Mapped{CompStart: 6.0, CompEnd: 8.0, OrigStart: 8.0, OrigEnd: 10.0}, m[2])
	assert.InDelta(t, 8.0, m.TotalCompressed(), 1e-9)
}

func TestMappingToOriginal(t *testing.T) {
	m := BuildMapping(KeepIntervals([]Span{{2.0, 3.0}, {7.0, 8.0}}, 10.0))

	// Compressed (5.0, 5.5) lies in the second keep-interval and maps to
	// original (6.0, 6.5).
	start, ok := m.ToOriginal(5.0)
	require.True(t, ok)
	assert.InDelta(t, 6.0, start, 1e-9)

	end, ok := m.ToOriginal(5.5)
	require.True(t, ok)
	assert.InDelta(t, 6.5, end, 1e-9)

	// Points outside the compressed stream are unmappable.
	_, ok = m.ToOriginal(8.5)
	assert.False(t, ok)
	_, ok = m.ToOriginal(-0.1)
	assert.False(t, ok)
}

func TestMappingDistancePreserving(t *testing.T) {
	m := BuildMapping(KeepIntervals([]Span{{10.0, 20.0}, {45.5, 60.25}}, 120.0))

	for _, seg := range m {
		for _, frac := range []float64{0.0, 0.25, 0.5, 0.99, 1.0} {
			p := seg.CompStart + frac*(seg.CompEnd-seg.CompStart)
			orig, ok := m.ToOriginal(p)
			require.True(t, ok)
			assert.InDelta(t, p-seg.CompStart, orig-seg.OrigStart, 1e-9)
		}
	}
}

func TestSplitChunks(t *testing.T) {
	t.Run("even split", func(t *testing.T) {
		chunks, err := SplitChunks(600.0, 300.0)
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, Chunk{Offset: 0.0, Length: 300.0}, chunks[0])
		assert.Equal(t, Chunk{Offset: 300.0, Length: 300.0}, chunks[1])
	})

	t.Run("remainder chunk", func(t *testing.T) {
		chunks, err := SplitChunks(650.0, 300.0)
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		assert.InDelta(t, 50.0, chunks[2].Length, 1e-9)
		assert.InDelta(t, 600.0, chunks[2].Offset, 1e-9)
	})

	t.Run("short stream is a single chunk", func(t *testing.T) {
		chunks, err := SplitChunks(120.0, 300.0)
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, Chunk{Offset: 0.0, Length: 120.0}, chunks[0])
	})

	t.Run("zero length stream", func(t *testing.T) {
		chunks, err := SplitChunks(0, 300.0)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("invalid chunk length", func(t *testing.T) {
		_, err := SplitChunks(100.0, 0)
		assert.Error(t, err)
	})
}
