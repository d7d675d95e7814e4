package internal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeChat returns scripted responses in order and records every request.
type fakeChat struct {
	mu        sync.Mutex
	responses []ChatResult
	errs      []error
	requests  []ChatRequest
}

func (f *fakeChat) push(content string, usage *TokenUsage) {
	f.responses = append(f.responses, ChatResult{Content: content, Usage: usage})
	f.errs = append(f.errs, nil)
}

func (f *fakeChat) pushErr(err error) {
	f.responses = append(f.responses, ChatResult{})
	f.errs = append(f.errs, err)
}

func (f *fakeChat) Complete(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if len(f.responses) == 0 {
		return nil, fmt.Errorf("fakeChat: no scripted response for step %d", len(f.requests))
	}
	resp := f.responses[0]
	err := f.errs[0]
	f.responses = f.responses[1:]
	f.errs = f.errs[1:]
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (f *fakeChat) recorded() []ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ChatRequest(nil), f.requests...)
}

// fakeCaptions serves captions per language code and fixed metadata.
type fakeCaptions struct {
	mu       sync.Mutex
	tracks   map[string][]RawCaption
	meta     *VideoMeta
	metaErr  error
	attempts []string
}

func (f *fakeCaptions) FetchCaptions(ctx context.Context, videoID, lang string) ([]RawCaption, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts = append(f.attempts, lang)
	if track, ok := f.tracks[lang]; ok {
		return track, nil
	}
	return nil, fmt.Errorf("no track for lang %q", lang)
}

func (f *fakeCaptions) FetchMetadata(ctx context.Context, videoID string) (*VideoMeta, error) {
	if f.metaErr != nil {
		return nil, f.metaErr
	}
	return f.meta, nil
}

func (f *fakeCaptions) attemptedLangs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.attempts...)
}

// fakePricing serves pricing from a fixed table.
type fakePricing struct {
	table map[string]ModelPricing
}

func (f *fakePricing) ModelPricing(ctx context.Context, modelID string) (*ModelPricing, error) {
	if pricing, ok := f.table[modelID]; ok {
		return &pricing, nil
	}
	return nil, fmt.Errorf("no pricing for %s", modelID)
}

func noSleep(time.Duration) {}

// defaultTrack is a simple three-minute caption track.
func defaultTrack() []RawCaption {
	var track []RawCaption
	for i := 0; i < 18; i++ {
		track = append(track, RawCaption{
			Start: float64(i * 10),
			Dur:   10.0,
			Text:  fmt.Sprintf("caption line %d about the topic", i),
		})
	}
	return track
}

// twoChapterJSON is a valid segmenter response covering 0..180s.
const twoChapterJSON = `{"chapters":[
  {"id":"ch-1","title":"Getting Started","startSec":0,"endSec":90,"thesis":"The basics.","primaryKeyword":"basics","secondaryKeywords":["intro"]},
  {"id":"ch-2","title":"Going Deeper","startSec":90,"endSec":180,"thesis":"Advanced ideas.","primaryKeyword":"advanced","secondaryKeywords":["details"]}
]}`

// scriptHappyPath loads a fakeChat with the full call sequence for a
// two-chapter article.
func scriptHappyPath(chat *fakeChat, usage *TokenUsage) {
	chat.push(twoChapterJSON, usage)                                        // chapters
	chat.push("An engaging introduction about the topic.", usage)           // intro v1
	chat.push("## Getting Started\n\nFirst section body.", usage)           // section 1 v1
	chat.push("## Going Deeper\n\nSecond section body.", usage)             // section 2 v1
	chat.push("## Conclusion\n\nWrapping up.", usage)                       // conclusion v1
	chat.push("## Strengths\nGood.\n## Weaknesses\nFew.", usage)            // feedback
	chat.push("A sharper introduction about the topic.", usage)             // intro v2
	chat.push("## Getting Started\n\nRevised first section.", usage)        // section 1 v2
	chat.push("## Going Deeper\n\nRevised second section.", usage)          // section 2 v2
	chat.push("## Conclusion\n\nA stronger wrap-up.", usage)                // conclusion v2
}

func testPolicies() map[Plan]PlanPolicy {
	return DefaultPolicies()
}
