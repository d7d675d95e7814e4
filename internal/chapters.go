package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
)

// Chapter errors surfaced to callers of the segmenter.
var (
	ErrMalformedChapters   = fmt.Errorf("malformed chapter response")
	ErrTooFewChapters      = fmt.Errorf("too few usable chapters")
	ErrOverlappingChapters = fmt.Errorf("overlapping chapters")
)

// Chapter is one contiguous span of the video with SEO planning fields.
type Chapter struct {
	ID                string   `json:"id"`
	Title             string   `json:"title"`
	StartSec          float64  `json:"startSec"`
	EndSec            float64  `json:"endSec"`
	Thesis            string   `json:"thesis"`
	PrimaryKeyword    string   `json:"primaryKeyword"`
	SecondaryKeywords []string `json:"secondaryKeywords"`
}

func (c Chapter) duration() float64 { return c.EndSec - c.StartSec }

// SegmenterOptions tunes chapter validation and repair.
type SegmenterOptions struct {
	MaxChapters         int     // hard cap after merge repair
	MinChapters         int     // minimum usable chapters
	MaxKeywords         int     // cap on secondary keywords per chapter
	OverlapToleranceSec float64 // slack allowed before two chapters count as overlapping
	EndSnapToleranceSec float64 // slack for snapping the final chapter to the video end
}

func (o SegmenterOptions) withDefaults() SegmenterOptions {
	if o.MaxChapters <= 0 {
		o.MaxChapters = 6
	}
	if o.MinChapters <= 0 {
		o.MinChapters = 2
	}
	if o.MaxKeywords <= 0 {
		o.MaxKeywords = 12
	}
	if o.OverlapToleranceSec <= 0 {
		o.OverlapToleranceSec = 1
	}
	if o.EndSnapToleranceSec <= 0 {
		o.EndSnapToleranceSec = 5
	}
	return o
}

// Segmenter turns a chunked transcript into a validated chapter outline.
type Segmenter struct {
	chat  ChatClient
	model string
	opts  SegmenterOptions
}

// NewSegmenter creates a segmenter using the given model for chapter planning.
func NewSegmenter(chat ChatClient, model string, opts SegmenterOptions) *Segmenter {
	return &Segmenter{chat: chat, model: model, opts: opts.withDefaults()}
}

// Generate asks the model for a chapter outline over the chunked transcript
// and returns the validated, repaired chapters.
func (s *Segmenter) Generate(ctx context.Context, chunkedTranscript, videoTitle string, totalDurationSec float64) ([]Chapter, *TokenUsage, error) {
	system := fmt.Sprintf(`You are an expert video editor and SEO strategist. Split the transcript into coherent chapters for a written article.

Rules:
- Return between 2 and %d chapters.
- Chapters must be contiguous, non-overlapping, and ordered by start time.
- Cover the full video from 0 to %d seconds.
- Each chapter needs a short descriptive title, a one-sentence thesis, a primary SEO keyword, and up to %d secondary keywords.

Respond with JSON only, in this exact shape:
{"chapters":[{"id":"ch-1","title":"...","startSec":0,"endSec":120,"thesis":"...","primaryKeyword":"...","secondaryKeywords":["..."]}]}`,
		s.opts.MaxChapters, int(totalDurationSec), s.opts.MaxKeywords)

	user := fmt.Sprintf("Video title: %s\nTotal duration (seconds): %d\n\nTranscript (with timestamps):\n%s",
		videoTitle, int(totalDurationSec), chunkedTranscript)

	result, err := s.chat.Complete(ctx, ChatRequest{
		Model: s.model,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:  0.2,
		MaxTokens:    2000,
		JSONResponse: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("generating chapters: %w", err)
	}

	chapters, err := s.parseAndRepair(result.Content, totalDurationSec)
	if err != nil {
		return nil, result.Usage, err
	}
	return chapters, result.Usage, nil
}

// parseAndRepair validates the raw model output and applies merge repair and
// boundary normalization.
func (s *Segmenter) parseAndRepair(content string, totalDurationSec float64) ([]Chapter, error) {
	var envelope struct {
		Chapters []json.RawMessage `json:"chapters"`
	}
	if err := json.Unmarshal([]byte(StripMarkdownFence(content)), &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedChapters, err)
	}
	if envelope.Chapters == nil {
		return nil, fmt.Errorf("%w: missing chapters array", ErrMalformedChapters)
	}

	// Lenient per-entry validation: broken entries are dropped, not fatal.
	chapters := make([]Chapter, 0, len(envelope.Chapters))
	for _, raw := range envelope.Chapters {
		var c Chapter
		if err := json.Unmarshal(raw, &c); err != nil {
			continue
		}
		c.ID = strings.TrimSpace(c.ID)
		c.Title = strings.TrimSpace(c.Title)
		c.Thesis = strings.TrimSpace(c.Thesis)
		c.PrimaryKeyword = strings.TrimSpace(c.PrimaryKeyword)
		if c.ID == "" || c.Title == "" || c.Thesis == "" || c.PrimaryKeyword == "" {
			continue
		}
		if math.IsNaN(c.StartSec) || math.IsNaN(c.EndSec) || c.EndSec <= c.StartSec {
			continue
		}
		c.SecondaryKeywords = normalizeKeywords(c.SecondaryKeywords, s.opts.MaxKeywords)
		chapters = append(chapters, c)
	}

	if len(chapters) < s.opts.MinChapters {
		return nil, fmt.Errorf("%w: got %d, need at least %d", ErrTooFewChapters, len(chapters), s.opts.MinChapters)
	}

	sortChapters(chapters)

	for i := 0; i < len(chapters)-1; i++ {
		if chapters[i].EndSec > chapters[i+1].StartSec+s.opts.OverlapToleranceSec {
			return nil, fmt.Errorf("%w: %q ends at %.0fs but %q starts at %.0fs",
				ErrOverlappingChapters, chapters[i].Title, chapters[i].EndSec,
				chapters[i+1].Title, chapters[i+1].StartSec)
		}
	}

	chapters = mergeToLimit(chapters, s.opts.MaxChapters, s.opts.MaxKeywords)

	// Normalize outer bounds so the outline covers the whole video.
	chapters[0].StartSec = 0
	last := len(chapters) - 1
	if math.Abs(chapters[last].EndSec-totalDurationSec) <= s.opts.EndSnapToleranceSec {
		chapters[last].EndSec = totalDurationSec
	}

	return chapters, nil
}

// mergeToLimit greedily merges the shortest chapter into its left neighbor
// (or right, for the first chapter) until at most limit chapters remain.
func mergeToLimit(chapters []Chapter, limit, maxKeywords int) []Chapter {
	for len(chapters) > limit {
		smallest := 0
		for i, c := range chapters {
			if c.duration() < chapters[smallest].duration() {
				smallest = i
			}
		}

		left := smallest - 1
		if smallest == 0 {
			left = 0 // merge the first chapter into its right neighbor instead
		}
		a, b := chapters[left], chapters[left+1]

		merged := Chapter{
			ID:                a.ID,
			Title:             a.Title + ": " + b.Title,
			StartSec:          math.Min(a.StartSec, b.StartSec),
			EndSec:            math.Max(a.EndSec, b.EndSec),
			Thesis:            strings.TrimSpace(a.Thesis + " " + b.Thesis),
			PrimaryKeyword:    a.PrimaryKeyword,
			SecondaryKeywords: mergeKeywords(a, b, maxKeywords),
		}

		chapters = append(chapters[:left], append([]Chapter{merged}, chapters[left+2:]...)...)
		sortChapters(chapters)
	}
	return chapters
}

func mergeKeywords(a, b Chapter, maxKeywords int) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(kw string) {
		kw = strings.TrimSpace(kw)
		if kw == "" || seen[strings.ToLower(kw)] {
			return
		}
		seen[strings.ToLower(kw)] = true
		out = append(out, kw)
	}
	add(b.PrimaryKeyword)
	for _, kw := range a.SecondaryKeywords {
		add(kw)
	}
	for _, kw := range b.SecondaryKeywords {
		add(kw)
	}
	if len(out) > maxKeywords {
		out = out[:maxKeywords]
	}
	return out
}

func normalizeKeywords(keywords []string, maxKeywords int) []string {
	var out []string
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		out = append(out, kw)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

func sortChapters(chapters []Chapter) {
	slices.SortStableFunc(chapters, func(a, b Chapter) int {
		switch {
		case a.StartSec < b.StartSec:
			return -1
		case a.StartSec > b.StartSec:
			return 1
		default:
			return 0
		}
	})
}
