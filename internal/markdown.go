package internal

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
)

var (
	excessNewlines = regexp.MustCompile(`\n{3,}`)
	slugQuotes     = regexp.MustCompile("['\"]")
	slugSeparators = regexp.MustCompile(`[^a-z0-9]+`)
)

// ArticleParts holds everything the assembler joins into the final document.
type ArticleParts struct {
	Title      string
	VideoTitle string
	VideoURL   string
	Intro      string
	Chapters   []Chapter
	Sections   []string
	Conclusion string
}

// AssembleArticle joins the article pieces into the final markdown document.
// Output is deterministic for identical inputs: pieces are joined with blank
// lines, runs of 3+ newlines collapse to 2, and the document ends with a
// single trailing newline.
func AssembleArticle(p ArticleParts) string {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = "YouTube Article"
	}

	var parts []string
	parts = append(parts, "# "+title)

	var meta []string
	if p.VideoURL != "" {
		meta = append(meta, fmt.Sprintf("Source: %s", p.VideoURL))
	}
	if p.VideoTitle != "" {
		meta = append(meta, fmt.Sprintf("Video title: %s", p.VideoTitle))
	}
	if len(meta) > 0 {
		parts = append(parts, strings.Join(meta, "\n"))
	}

	parts = append(parts, strings.TrimSpace(p.Intro))

	if len(p.Chapters) > 0 {
		var outline strings.Builder
		outline.WriteString("## Outline\n")
		for _, ch := range p.Chapters {
			outline.WriteString("- " + ch.Title + "\n")
		}
		parts = append(parts, strings.TrimSpace(outline.String()))
	}

	for _, section := range p.Sections {
		parts = append(parts, strings.TrimSpace(section))
	}

	parts = append(parts, strings.TrimSpace(p.Conclusion))

	nonEmpty := parts[:0]
	for _, part := range parts {
		if part != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}

	doc := strings.Join(nonEmpty, "\n\n")
	doc = excessNewlines.ReplaceAllString(doc, "\n\n")
	return strings.TrimSpace(doc) + "\n"
}

// Slugify derives a URL- and filename-safe slug from a title.
func Slugify(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = slugQuotes.ReplaceAllString(slug, "")
	slug = slugSeparators.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "youtube-to-blog"
	}
	return slug
}

// MarkdownToHTML converts article markdown to HTML for export.
func MarkdownToHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("converting markdown to HTML: %w", err)
	}
	return buf.String(), nil
}
