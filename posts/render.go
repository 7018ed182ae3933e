package posts

import (
	"bytes"
	"fmt"
	"html"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"

	"inkwell/cache"
	"inkwell/models"
)

// markdown renderer configured with Goldmark and useful extensions
var md = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,     // tables, strikethrough, task lists, autolinks (GFM set)
		extension.Linkify, // linkify raw URLs
	),
	goldmark.WithRendererOptions(
		htmlrenderer.WithUnsafe(), // allow raw HTML passthrough in Markdown
	),
)

const renderCacheMaxAge = 12 * time.Hour

// renderedHTML materializes the post body: text blocks through the markdown
// renderer, headings and images as plain elements, in block order. The
// result is caller-independent, so it is served from the file cache.
func (p *PostModule) renderedHTML(post *models.Post) string {
	if cached, found := cache.ReadCache(post.Slug, renderCacheMaxAge); found {
		return cached
	}

	var out strings.Builder
	for _, block := range post.ContentBlocks {
		switch block.Kind {
		case "heading":
			out.WriteString("<h2>" + html.EscapeString(block.Value) + "</h2>\n")
		case "image":
			out.WriteString(fmt.Sprintf("<img src=%q alt=\"\">\n", block.Value))
		case "text":
			out.WriteString(renderMarkdown(block.Value))
		}
	}

	rendered := out.String()
	if err := cache.WriteCache(post.Slug, rendered); err != nil {
		// Serve the render anyway; caching is best effort.
		return rendered
	}
	return rendered
}

// invalidateRender drops cached renders after a mutation. Both slugs matter
// when a title change moved the post.
func (p *PostModule) invalidateRender(oldSlug, newSlug string) {
	cache.ClearCache(oldSlug)
	if newSlug != oldSlug {
		cache.ClearCache(newSlug)
	}
}

// StartCacheJanitor schedules removal of expired render cache files. Reads
// already ignore expired entries; the janitor just reclaims the disk.
func (p *PostModule) StartCacheJanitor() {
	p.janitor = cron.New()
	_, err := p.janitor.AddFunc("@every 12h", func() {
		if err := cache.ClearOldCache(renderCacheMaxAge); err != nil {
			log.Printf("Error clearing old render cache: %v", err)
		}
	})
	if err != nil {
		log.Printf("Error scheduling render cache cleanup: %v", err)
		return
	}
	p.janitor.Start()
}

func (p *PostModule) StopCacheJanitor() {
	if p.janitor != nil {
		p.janitor.Stop()
	}
}

func renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(content), &buf); err != nil {
		// On renderer failure fall back to the raw content rather than
		// breaking the read.
		return content
	}
	return buf.String()
}
