package internal

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// ErrInvalidVideoURL indicates the argument is neither a YouTube URL nor a
// bare video id.
var ErrInvalidVideoURL = fmt.Errorf("not a YouTube URL or video id")

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// IsValidYouTubeID checks if a string looks like a YouTube video id.
func IsValidYouTubeID(id string) bool {
	return videoIDPattern.MatchString(id)
}

// ParseVideoArg accepts a watch URL, a youtu.be short link, a shorts URL, or
// a bare 11-character video id and returns the canonical watch URL plus the
// video id.
func ParseVideoArg(arg string) (string, string, error) {
	arg = strings.TrimSpace(arg)

	if strings.HasPrefix(arg, "https://") || strings.HasPrefix(arg, "http://") {
		u, err := url.Parse(arg)
		if err != nil {
			return "", "", fmt.Errorf("parsing URL: %w", err)
		}

		var id string
		switch u.Host {
		case "www.youtube.com", "youtube.com", "m.youtube.com":
			if v := u.Query().Get("v"); v != "" {
				id = v
			} else if rest, ok := strings.CutPrefix(u.Path, "/shorts/"); ok {
				id = strings.SplitN(rest, "/", 2)[0]
			} else if rest, ok := strings.CutPrefix(u.Path, "/embed/"); ok {
				id = strings.SplitN(rest, "/", 2)[0]
			}
		case "youtu.be":
			id = strings.TrimPrefix(u.Path, "/")
		default:
			return "", "", fmt.Errorf("%w: %s", ErrInvalidVideoURL, arg)
		}

		if !IsValidYouTubeID(id) {
			return "", "", fmt.Errorf("%w: %s", ErrInvalidVideoURL, arg)
		}
		return "https://www.youtube.com/watch?v=" + id, id, nil
	}

	if IsValidYouTubeID(arg) {
		return "https://www.youtube.com/watch?v=" + arg, arg, nil
	}

	return "", "", fmt.Errorf("%w: %s", ErrInvalidVideoURL, arg)
}

// ValidateAPIKey checks that the OpenRouter API key is set.
func ValidateAPIKey(apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("OpenRouter API key is required - set it in config.toml or the OPENROUTER_API_KEY environment variable")
	}
	return nil
}

// getTerminalWidth gets terminal width with fallback
func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}

	if width > 10 {
		return width - 4
	}

	return width
}

// RenderMarkdown renders markdown content with glamour
func RenderMarkdown(content string) (string, error) {
	width := getTerminalWidth()
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
		glamour.WithColorProfile(termenv.EnvColorProfile()),
	)
	if err != nil {
		return "", fmt.Errorf("creating terminal renderer: %w", err)
	}

	renderedContent, err := r.Render(content)
	if err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}

	return renderedContent, nil
}

// FileExists checks if a file exists
func FileExists(filename string) bool {
	_, err := os.Stat(filename)
	return !os.IsNotExist(err)
}

// EnsureDirs creates directories if needed
func EnsureDirs(dir ...string) error {
	for _, dir := range dir {
		if !FileExists(dir) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsLikelyCommand checks if a string looks like it might be a mistyped command
func IsLikelyCommand(arg string) bool {
	return len(arg) <= 10 && !IsValidYouTubeID(arg) && !strings.HasPrefix(arg, "http")
}
