package internal

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// ErrEmptyTranscript indicates no usable caption segments remained after normalization.
var ErrEmptyTranscript = fmt.Errorf("transcript is empty")

// RawCaption is one caption entry as delivered by a caption source.
// Start and Dur are loosely typed because upstream feeds return them as
// strings about as often as numbers.
type RawCaption struct {
	Start any    `json:"start"`
	Dur   any    `json:"dur"`
	Text  string `json:"text"`
}

// TranscriptSegment is a normalized caption with an absolute time range.
type TranscriptSegment struct {
	StartSec float64 `json:"startSec"`
	EndSec   float64 `json:"endSec"`
	Text     string  `json:"text"`
}

// TranscriptChunk groups adjacent segments into a passage sized for prompting.
type TranscriptChunk struct {
	StartSec float64 `json:"startSec"`
	EndSec   float64 `json:"endSec"`
	Text     string  `json:"text"`
}

// toSeconds coerces the loosely typed timing values to seconds.
func toSeconds(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n) && !math.IsInf(n, 0)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	default:
		return 0, false
	}
}

// NormalizeCaptions converts raw captions into clean, time-ordered segments.
// Entries with unparseable timing or empty text are dropped, whitespace is
// collapsed, and time ranges are clamped so endSec >= startSec >= 0.
func NormalizeCaptions(raw []RawCaption) ([]TranscriptSegment, error) {
	segments := make([]TranscriptSegment, 0, len(raw))
	for _, item := range raw {
		start, ok := toSeconds(item.Start)
		if !ok {
			continue
		}
		dur, ok := toSeconds(item.Dur)
		if !ok {
			continue
		}

		text := strings.Join(strings.Fields(item.Text), " ")
		if text == "" {
			continue
		}

		startSec := math.Max(0, start)
		endSec := math.Max(startSec, startSec+math.Max(0, dur))
		segments = append(segments, TranscriptSegment{
			StartSec: startSec,
			EndSec:   endSec,
			Text:     text,
		})
	}

	if len(segments) == 0 {
		return nil, ErrEmptyTranscript
	}

	slices.SortStableFunc(segments, func(a, b TranscriptSegment) int {
		switch {
		case a.StartSec < b.StartSec:
			return -1
		case a.StartSec > b.StartSec:
			return 1
		default:
			return 0
		}
	})

	return segments, nil
}

// ChunkOptions tunes how segments are grouped into passages.
type ChunkOptions struct {
	TargetSeconds float64 // soft target per chunk
	MaxSeconds    float64 // hard cap per chunk
	PauseSeconds  float64 // gap treated as a natural break
}

func (o ChunkOptions) withDefaults() ChunkOptions {
	if o.TargetSeconds <= 0 {
		o.TargetSeconds = 45
	}
	if o.MaxSeconds <= 0 {
		o.MaxSeconds = 75
	}
	if o.PauseSeconds <= 0 {
		o.PauseSeconds = 1.5
	}
	return o
}

// ChunkSegments groups ordered segments into chunks around the soft target
// duration. A chunk closes when adding the next segment would exceed the hard
// cap, or would exceed the target while a natural pause sits between segments.
func ChunkSegments(segments []TranscriptSegment, opts ChunkOptions) []TranscriptChunk {
	opts = opts.withDefaults()

	var chunks []TranscriptChunk
	var open []TranscriptSegment

	flush := func() {
		if len(open) == 0 {
			return
		}
		parts := make([]string, len(open))
		for i, seg := range open {
			parts[i] = seg.Text
		}
		chunks = append(chunks, TranscriptChunk{
			StartSec: open[0].StartSec,
			EndSec:   open[len(open)-1].EndSec,
			Text:     strings.Join(parts, " "),
		})
		open = open[:0]
	}

	for _, seg := range segments {
		if len(open) == 0 {
			open = append(open, seg)
			continue
		}

		wouldDuration := seg.EndSec - open[0].StartSec
		hasBreak := seg.StartSec-open[len(open)-1].EndSec >= opts.PauseSeconds

		if wouldDuration > opts.MaxSeconds || (wouldDuration >= opts.TargetSeconds && hasBreak) {
			flush()
		}
		open = append(open, seg)
	}
	flush()

	return chunks
}

// SliceSegments returns the segments overlapping the [startSec, endSec) range.
func SliceSegments(segments []TranscriptSegment, startSec, endSec float64) []TranscriptSegment {
	var out []TranscriptSegment
	for _, seg := range segments {
		if seg.EndSec > startSec && seg.StartSec < endSec {
			out = append(out, seg)
		}
	}
	return out
}

// FormatChunks renders chunks as timestamped passages for prompting.
func FormatChunks(chunks []TranscriptChunk) string {
	parts := make([]string, len(chunks))
	for i, chunk := range chunks {
		parts[i] = fmt.Sprintf("[%ds] %s", int(chunk.StartSec), chunk.Text)
	}
	return strings.Join(parts, "\n\n")
}

// FormatSegments renders segments as timestamped lines for prompting.
func FormatSegments(segments []TranscriptSegment) string {
	parts := make([]string, len(segments))
	for i, seg := range segments {
		parts[i] = fmt.Sprintf("[%ds] %s", int(seg.StartSec), seg.Text)
	}
	return strings.Join(parts, "\n")
}

// TotalDurationSec returns the transcript length in whole seconds.
func TotalDurationSec(segments []TranscriptSegment) float64 {
	if len(segments) == 0 {
		return 0
	}
	return math.Ceil(segments[len(segments)-1].EndSec)
}
