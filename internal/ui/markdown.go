package ui

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/glamour/styles"
)

// Package-level renderer cache to avoid expensive recreation on every frame
var (
	mdRendererCache struct {
		sync.Mutex
		renderer *glamour.TermRenderer
		width    int
	}
)

// GlamourStyle returns the dark glamour style used for response text.
func GlamourStyle() ansi.StyleConfig {
	return styles.DarkStyleConfig
}

// RenderMarkdown renders markdown content using glamour with standard styling.
// On error, returns the original content unchanged.
func RenderMarkdown(content string, width int) string {
	if content == "" {
		return ""
	}

	rendered, err := RenderMarkdownWithError(content, width)
	if err != nil {
		return content
	}
	return rendered
}

// RenderMarkdownWithError renders markdown content and returns any errors.
// Use this variant when error handling is needed.
func RenderMarkdownWithError(content string, width int) (string, error) {
	mdRendererCache.Lock()
	defer mdRendererCache.Unlock()

	// Reuse cached renderer if width matches
	if mdRendererCache.renderer != nil && mdRendererCache.width == width {
		rendered, err := mdRendererCache.renderer.Render(content)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(rendered), nil
	}

	style := GlamourStyle()
	margin := uint(0)
	style.Document.Margin = &margin
	style.Document.BlockPrefix = ""
	style.Document.BlockSuffix = ""
	style.CodeBlock.Margin = &margin

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStyles(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}

	mdRendererCache.renderer = renderer
	mdRendererCache.width = width

	rendered, err := renderer.Render(content)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(rendered), nil
}
