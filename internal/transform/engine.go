package transform

import (
	"context"
	"log/slog"
	"strings"

	"feed_relay/internal/model"
)

// NoText is posted when an entry has neither body nor title.
const NoText = "*No text.*"

// Translator translates an HTML fragment between two language codes.
// A source of "auto" asks the backend to detect the language.
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// Engine composes the transform functions for one group.
type Engine struct {
	translator Translator
	logger     *slog.Logger

	// OnTranslateError, when set, is told about every failed translation.
	OnTranslateError func(ctx context.Context, err error)
}

// NewEngine creates an Engine. translator may be nil, in which case groups
// asking for translation get the original text.
func NewEngine(translator Translator, logger *slog.Logger) *Engine {
	return &Engine{translator: translator, logger: logger}
}

// Translate returns text translated from one language to another. Any
// failure is logged and the input is returned unchanged.
func (e *Engine) Translate(ctx context.Context, text, from, to string) string {
	if e.translator == nil {
		e.logger.Warn("translation requested but no translator configured")
		return text
	}
	out, err := e.translator.Translate(ctx, text, from, to)
	if err != nil {
		e.logger.Error("translate text", "from", from, "to", to, "error", err)
		if e.OnTranslateError != nil {
			e.OnTranslateError(ctx, err)
		}
		return text
	}
	return out
}

// Text produces the final outbound body of entry for group g.
func (e *Engine) Text(ctx context.Context, entry *model.Entry, g *model.Group, s model.AppSettings) string {
	body := entry.Summary
	if strings.TrimSpace(body) == "" {
		body = entry.Title
	}
	if strings.TrimSpace(body) == "" {
		return NoText
	}

	if g.Translate {
		body = e.Translate(ctx, body, g.TranslateFrom, g.TranslateTo)
	}

	text := convert(body, anchorRewriter(g))
	text = RewriteMirrors(text, g, s)
	if g.RemoveCopyright {
		text = RemoveCopyrightSymbols(text)
	}
	if g.RemoveUTM {
		text = StripTrackingParameters(text)
	}
	if g.UnescapeHTML {
		text = UnescapeHTMLEntities(text)
	}
	if g.UsernameLinks {
		text = RewriteUsernameMentions(text, ProfileBase(g.LinkDestination, s.NitterInstance))
	}
	if g.HashtagLinks {
		text = RewriteHashtags(text, g.LinkDestination, s.NitterInstance)
	}
	if g.RedditLinks {
		text = RewriteRedditPaths(text)
	}
	if g.HideLinkPreviews {
		text = WrapBareLinks(text)
	}

	if strings.TrimSpace(text) == "" {
		return NoText
	}
	return text
}

// anchorRewriter sends mirror hashtag and profile anchors to Twitter when
// the group links there.
func anchorRewriter(g *model.Group) hrefRewriter {
	if g.LinkDestination != model.DestinationTwitter {
		return nil
	}
	return func(text, href string) string {
		switch {
		case len(text) > 1 && strings.HasPrefix(text, "#"):
			return HashtagURL(text[1:], model.DestinationTwitter, "")
		case len(text) > 1 && strings.HasPrefix(text, "@"):
			return TwitterBase + "/" + text[1:]
		}
		return href
	}
}
