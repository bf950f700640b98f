// Package webvtt emits and parses WebVTT subtitle files in the exact byte
// layout expected by downstream players: a WEBVTT header, numbered cues,
// HH:MM:SS.mmm timestamps, and a blank line after every cue.
package webvtt

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Cue is a single subtitle entry. Start and End are seconds on the clip
// timeline.
type Cue struct {
	Start float64
	End   float64
	Text  string
}

// Write emits the cues to w. Cues are numbered in the order given.
// Timestamps are clamped to zero; cues with End <= Start are skipped; the
// substring "-->" inside cue text is replaced with "→" so it cannot be
// confused with a timing line. Returns the number of cues written.
func Write(w io.Writer, cues []Cue) (int, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString("WEBVTT\n\n"); err != nil {
		return 0, err
	}

	written := 0
	for _, cue := range cues {
		start := math.Max(0, cue.Start)
		end := math.Max(0, cue.End)
		if end <= start {
			continue
		}
		written++

		text := strings.ReplaceAll(cue.Text, "-->", "→")
		if _, err := fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n\n",
			written, FormatTimestamp(start), FormatTimestamp(end), text); err != nil {
			return written, err
		}
	}
	return written, bw.Flush()
}

// FormatTimestamp renders seconds as HH:MM:SS.mmm with zero padding.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	millis := int64(math.Round(seconds * 1000))
	h := millis / 3_600_000
	millis -= h * 3_600_000
	m := millis / 60_000
	millis -= m * 60_000
	s := millis / 1000
	ms := millis % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// ParseTimestamp parses an HH:MM:SS.mmm timestamp back into seconds.
func ParseTimestamp(ts string) (float64, error) {
	parts := strings.Split(ts, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed timestamp %q", ts)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed timestamp %q: %w", ts, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed timestamp %q: %w", ts, err)
	}
	secParts := strings.Split(parts[2], ".")
	if len(secParts) != 2 {
		return 0, fmt.Errorf("malformed timestamp %q", ts)
	}
	s, err := strconv.Atoi(secParts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed timestamp %q: %w", ts, err)
	}
	ms, err := strconv.Atoi(secParts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed timestamp %q: %w", ts, err)
	}
	return float64(h)*3600 + float64(m)*60 + float64(s) + float64(ms)/1000, nil
}

// Parse reads a WebVTT document and returns its cues in file order. Cue
// numbers are not preserved; multi-line cue text is joined with newlines.
func Parse(r io.Reader) ([]Cue, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, fmt.Errorf("empty document")
	}
	if header := strings.TrimSpace(scanner.Text()); !strings.HasPrefix(header, "WEBVTT") {
		return nil, fmt.Errorf("missing WEBVTT header, got %q", header)
	}

	var cues []Cue
	var cur *Cue
	var textLines []string

	flush := func() {
		if cur != nil {
			cur.Text = strings.Join(textLines, "\n")
			cues = append(cues, *cur)
			cur = nil
			textLines = nil
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			flush()
			continue
		}

		if strings.Contains(trimmed, "-->") {
			fields := strings.SplitN(trimmed, "-->", 2)
			start, err := ParseTimestamp(strings.TrimSpace(fields[0]))
			if err != nil {
				return nil, err
			}
			end, err := ParseTimestamp(strings.TrimSpace(fields[1]))
			if err != nil {
				return nil, err
			}
			cur = &Cue{Start: start, End: end}
			textLines = nil
			continue
		}

		if cur == nil {
			// Cue identifier line, comment, or metadata. Ignored.
			continue
		}
		textLines = append(textLines, line)
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	return cues, nil
}
