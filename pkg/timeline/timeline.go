// Package timeline implements the silence-aware compression math used by
// transcription: computing keep-intervals from silence regions, mapping
// points on the compressed audio timeline back to the original timeline,
// and splitting the compressed stream into bounded chunks.
package timeline

import (
	"fmt"
	"sort"
)

// Span is a half-open-ish `[Start, End]` interval in seconds. Spans with
// End <= Start are empty.
type Span struct {
	Start float64
	End   float64
}

// Duration returns End - Start, or 0 for an empty span.
func (s Span) Duration() float64 {
	if s.End <= s.Start {
		return 0
	}
	return s.End - s.Start
}

// Contains reports whether p lies within the span (inclusive bounds).
func (s Span) Contains(p float64) bool {
	return p >= s.Start && p <= s.End
}

// Normalize sorts spans by start, clamps them into [0, duration] and merges
// overlapping or touching spans.
func Normalize(spans []Span, duration float64) []Span {
	clamped := make([]Span, 0, len(spans))
	for _, s := range spans {
		if s.Start < 0 {
			s.Start = 0
		}
		if s.End > duration {
			s.End = duration
		}
		if s.End > s.Start {
			clamped = append(clamped, s)
		}
	}
	sort.Slice(clamped, func(i, j int) bool { return clamped[i].Start < clamped[j].Start })

	merged := make([]Span, 0, len(clamped))
	for _, s := range clamped {
		if n := len(merged); n > 0 && s.Start <= merged[n-1].End {
			if s.End > merged[n-1].End {
				merged[n-1].End = s.End
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// KeepIntervals returns the complement of the silence spans against
// [0, duration]: the ordered portions of the original timeline that carry
// audio worth transcribing. Silences are normalized first, so the union of
// the returned intervals and the silences partitions [0, duration] exactly.
func KeepIntervals(silences []Span, duration float64) []Span {
	if duration <= 0 {
		return nil
	}
	merged := Normalize(silences, duration)

	keeps := make([]Span, 0, len(merged)+1)
	cursor := 0.0
	for _, s := range merged {
		if s.Start > cursor {
			keeps = append(keeps, Span{Start: cursor, End: s.Start})
		}
		cursor = s.End
	}
	if cursor < duration {
		keeps = append(keeps, Span{Start: cursor, End: duration})
	}
	return keeps
}

// Mapped links a range on the compressed timeline to its keep-interval on
// the original timeline. Compression preserves duration within an interval,
// so CompEnd-CompStart == OrigEnd-OrigStart.
type Mapped struct {
	CompStart float64
	CompEnd   float64
	OrigStart float64
	OrigEnd   float64
}

// Mapping is the piecewise-linear translation from the compressed timeline
// back to the original timeline.
type Mapping []Mapped

// BuildMapping lays the keep-intervals end to end on the compressed timeline.
func BuildMapping(keeps []Span) Mapping {
	m := make(Mapping, 0, len(keeps))
	offset := 0.0
	for _, k := range keeps {
		d := k.Duration()
		if d <= 0 {
			continue
		}
		m = append(m, Mapped{
			CompStart: offset,
			CompEnd:   offset + d,
			OrigStart: k.Start,
			OrigEnd:   k.End,
		})
		offset += d
	}
	return m
}

// TotalCompressed returns the length of the compressed stream.
func (m Mapping) TotalCompressed() float64 {
	if len(m) == 0 {
		return 0
	}
	return m[len(m)-1].CompEnd
}

// ToOriginal translates a point on the compressed timeline to the original
// timeline. The translation is distance-preserving within a keep-interval.
// Returns false if the point lies outside every mapped range.
func (m Mapping) ToOriginal(p float64) (float64, bool) {
	for _, seg := range m {
		if p >= seg.CompStart && p <= seg.CompEnd {
			return seg.OrigStart + (p - seg.CompStart), true
		}
	}
	return 0, false
}

// Chunk is a window of the compressed stream handed to one transcription
// call. Offset is where the chunk begins on the compressed timeline.
type Chunk struct {
	Offset float64
	Length float64
}

// SplitChunks cuts a stream of the given total length into sequential chunks
// of at most maxLen seconds.
func SplitChunks(total, maxLen float64) ([]Chunk, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("chunk length must be positive, got %v", maxLen)
	}
	if total <= 0 {
		return nil, nil
	}
	var chunks []Chunk
	for off := 0.0; off < total; off += maxLen {
		length := maxLen
		if off+length > total {
			length = total - off
		}
		chunks = append(chunks, Chunk{Offset: off, Length: length})
	}
	return chunks, nil
}
