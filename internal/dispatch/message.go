package dispatch

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"feed_relay/internal/filter"
	"feed_relay/internal/model"
	"feed_relay/internal/webhook"
)

const (
	defaultColor      = 0x1DA1F2
	defaultFooterIcon = "https://abs.twimg.com/icons/apple-touch-icon-192x192.png"
	maxGalleryImages  = 4
)

// Action describes what the account did: tweeted, retweeted or replied.
func Action(e *model.Entry) string {
	switch {
	case filter.IsRetweet(e):
		return "retweeted"
	case filter.IsReply(e):
		if target := filter.ReplyTarget(e.Title); target != "" {
			return "replied to " + target
		}
		return "replied"
	default:
		return "tweeted"
	}
}

// TextMessage builds the text-mode message. With attribution enabled the
// body is prefixed by "[author](<link>) action:".
func TextMessage(e *model.Entry, g *model.Group, link, text string) webhook.Message {
	if g.AppendUsername {
		author := e.Author
		if author == "" {
			author = "Unknown"
		}
		text = fmt.Sprintf("[%s](<%s>) %s:\n%s", author, link, Action(e), text)
	}
	return webhook.Message{Content: webhook.Truncate(text, webhook.MaxContentRunes)}
}

// LinkMessage builds the link-mode message.
func LinkMessage(link string) webhook.Message {
	return webhook.Message{Content: link}
}

// EmbedMessage builds the embed-mode message: one main embed, plus one
// extra embed per image when the entry has several, sharing the entry URL
// so that the client renders them as a gallery.
func EmbedMessage(e *model.Entry, g *model.Group, feed *model.Feed, link, text string) webhook.Message {
	embed := webhook.Embed{
		Description: webhook.Truncate(text, webhook.MaxDescriptionRunes),
		URL:         link,
		Color:       parseColor(g.EmbedColor),
	}
	if g.EmbedShowTitle {
		embed.Title = webhook.Truncate(e.Title, 256)
	}
	if g.EmbedShowAuthor {
		embed.Author = &webhook.EmbedAuthor{
			Name: authorName(e, g, feed),
			URL:  link,
		}
		if feed != nil {
			embed.Author.IconURL = feed.ImageURL
		}
	}
	if g.EmbedTimestamp && e.Published != nil {
		embed.Timestamp = e.Published.UTC().Format(time.RFC3339)
	}
	if g.EmbedFooterText != "" {
		icon := g.EmbedFooterIconURL
		if icon == "" {
			icon = defaultFooterIcon
		}
		embed.Footer = &webhook.EmbedFooter{Text: g.EmbedFooterText, IconURL: icon}
	}

	if g.EmbedImage != "" {
		embed.Image = &webhook.EmbedImage{URL: g.EmbedImage}
		return webhook.Message{Embeds: []webhook.Embed{embed}}
	}

	images := Images(e, maxGalleryImages)
	switch len(images) {
	case 0:
		return webhook.Message{Embeds: []webhook.Embed{embed}}
	case 1:
		embed.Image = &webhook.EmbedImage{URL: images[0]}
		return webhook.Message{Embeds: []webhook.Embed{embed}}
	}

	embed.Image = &webhook.EmbedImage{URL: images[0]}
	embeds := []webhook.Embed{embed}
	for _, u := range images[1:] {
		embeds = append(embeds, webhook.Embed{URL: link, Image: &webhook.EmbedImage{URL: u}})
	}
	return webhook.Message{Embeds: embeds}
}

// Images returns up to limit absolute image URLs from the entry body and
// its enclosures, in order and without duplicates.
func Images(e *model.Entry, limit int) []string {
	var urls []string
	add := func(u string) {
		if len(urls) >= limit {
			return
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return
		}
		for _, have := range urls {
			if have == u {
				return
			}
		}
		urls = append(urls, u)
	}

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(e.Summary)); err == nil {
		doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
			src, _ := s.Attr("src")
			add(src)
		})
	}
	for _, u := range e.ImageURLs {
		add(u)
	}
	return urls
}

func authorName(e *model.Entry, g *model.Group, feed *model.Feed) string {
	if g.EmbedAuthorName != "" {
		return g.EmbedAuthorName
	}
	if feed != nil {
		if handle := feed.Handle(); handle != "" {
			return fmt.Sprintf("%s (%s)", feed.DisplayName(), handle)
		}
		if feed.Title != "" {
			return feed.Title
		}
	}
	if e.Author != "" {
		return e.Author
	}
	return "Unknown"
}

func parseColor(hex string) int {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) != 6 {
		return defaultColor
	}
	n, err := strconv.ParseInt(hex, 16, 32)
	if err != nil {
		return defaultColor
	}
	return int(n)
}
