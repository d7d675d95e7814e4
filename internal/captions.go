package internal

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoCaptions indicates that no caption track could be fetched in any of
// the attempted languages.
var ErrNoCaptions = fmt.Errorf("no captions available")

// VideoMeta is the subset of video metadata the pipeline uses.
type VideoMeta struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description"`
}

// CaptionSource fetches caption tracks and metadata for a video. Implemented
// by YouTubeCaptions and by fakes in tests.
type CaptionSource interface {
	FetchCaptions(ctx context.Context, videoID, lang string) ([]RawCaption, error)
	FetchMetadata(ctx context.Context, videoID string) (*VideoMeta, error)
}

// YouTubeCaptions fetches captions from YouTube's timedtext endpoint and
// metadata from the oEmbed endpoint.
type YouTubeCaptions struct {
	httpClient   *http.Client
	timedtextURL string
	oembedURL    string
	verbose      bool
}

// NewYouTubeCaptions creates a production caption source.
func NewYouTubeCaptions(verbose bool) *YouTubeCaptions {
	return &YouTubeCaptions{
		httpClient:   &http.Client{Timeout: 20 * time.Second},
		timedtextURL: "https://video.google.com/timedtext",
		oembedURL:    "https://www.youtube.com/oembed",
		verbose:      verbose,
	}
}

// FetchCaptions fetches one caption track. A lang of the form "a.<code>"
// requests the auto-generated track for that language. An empty lang lets
// YouTube pick the default track.
func (y *YouTubeCaptions) FetchCaptions(ctx context.Context, videoID, lang string) ([]RawCaption, error) {
	params := url.Values{}
	params.Set("v", videoID)
	if code, ok := strings.CutPrefix(lang, "a."); ok {
		params.Set("lang", code)
		params.Set("kind", "asr")
	} else if lang != "" {
		params.Set("lang", lang)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.timedtextURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building captions request: %w", err)
	}

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching captions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching captions: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading captions: %w", err)
	}

	captions, err := parseTimedText(body)
	if err != nil {
		return nil, err
	}
	if len(captions) == 0 {
		return nil, fmt.Errorf("empty caption track for %s (lang %q)", videoID, lang)
	}
	return captions, nil
}

// parseTimedText decodes YouTube's timedtext XML into raw captions. The XML
// decoder unescapes entities in the caption text.
func parseTimedText(body []byte) ([]RawCaption, error) {
	var doc struct {
		Texts []struct {
			Start string `xml:"start,attr"`
			Dur   string `xml:"dur,attr"`
			Text  string `xml:",chardata"`
		} `xml:"text"`
	}
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parsing captions XML: %w", err)
	}

	captions := make([]RawCaption, 0, len(doc.Texts))
	for _, t := range doc.Texts {
		captions = append(captions, RawCaption{Start: t.Start, Dur: t.Dur, Text: t.Text})
	}
	return captions, nil
}

// FetchMetadata fetches the video title and channel via oEmbed. YouTube's
// oEmbed payload carries no description.
func (y *YouTubeCaptions) FetchMetadata(ctx context.Context, videoID string) (*VideoMeta, error) {
	params := url.Values{}
	params.Set("url", "https://www.youtube.com/watch?v="+videoID)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.oembedURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building metadata request: %w", err)
	}

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching metadata: status %d", resp.StatusCode)
	}

	var payload struct {
		Title      string `json:"title"`
		AuthorName string `json:"author_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("parsing metadata: %w", err)
	}

	return &VideoMeta{Title: payload.Title, Author: payload.AuthorName}, nil
}

// FetchCaptionsWithFallback tries a chain of language codes before giving
// up: the requested language, its lowercase form, English variants, and
// finally whatever default track YouTube serves. Each language gets three
// attempts with linear backoff. The returned error lists every language
// tried.
func FetchCaptionsWithFallback(ctx context.Context, src CaptionSource, videoID, lang string, sleep func(time.Duration)) ([]RawCaption, string, error) {
	if sleep == nil {
		sleep = time.Sleep
	}

	candidates := []string{lang, strings.ToLower(lang), "en", "a.en", "en-US", "en-GB"}
	var langs []string
	seen := make(map[string]bool)
	for _, candidate := range candidates {
		if candidate == "" || seen[candidate] {
			continue
		}
		seen[candidate] = true
		langs = append(langs, candidate)
	}

	const attemptsPerLang = 3
	for _, candidate := range langs {
		for attempt := 1; attempt <= attemptsPerLang; attempt++ {
			captions, err := src.FetchCaptions(ctx, videoID, candidate)
			if err == nil {
				return captions, candidate, nil
			}
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			if attempt < attemptsPerLang {
				sleep(time.Duration(attempt) * 250 * time.Millisecond)
			}
		}
	}

	// Last resort: let YouTube pick the track.
	if captions, err := src.FetchCaptions(ctx, videoID, ""); err == nil {
		return captions, "", nil
	}

	return nil, "", fmt.Errorf("no captions found for %s (tried languages: %s): %w",
		videoID, strings.Join(langs, ", "), ErrNoCaptions)
}
