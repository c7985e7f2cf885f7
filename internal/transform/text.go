package transform

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"feed_relay/internal/model"
)

// TwitterBase is the canonical site used when a group links to Twitter.
const TwitterBase = "https://twitter.com"

var copyrightReplacer = strings.NewReplacer("©", "", "™", "", "®", "")

// RemoveCopyrightSymbols deletes ©, ™ and ®.
func RemoveCopyrightSymbols(text string) string {
	return copyrightReplacer.Replace(text)
}

var trackingRe = regexp.MustCompile(`([?&])(?:utm_(?:source|campaign|medium|term|content)=[^&\s)>\]]*)(&?)`)

// StripTrackingParameters removes utm_* query parameters from every URL in
// text. The separator left behind is repaired so no URL ends in "?" or "&"
// and no "?&" or "&&" pair remains.
func StripTrackingParameters(text string) string {
	for {
		out := trackingRe.ReplaceAllStringFunc(text, func(m string) string {
			sub := trackingRe.FindStringSubmatch(m)
			lead, trail := sub[1], sub[2]
			if trail == "" {
				return ""
			}
			return lead
		})
		if out == text {
			return out
		}
		text = out
	}
}

// UnescapeHTMLEntities decodes HTML character references.
func UnescapeHTMLEntities(text string) string {
	return html.UnescapeString(text)
}

var mentionRe = regexp.MustCompile(`(^|[^\w\[/@])@(\w{1,15})\b`)

// RewriteUsernameMentions turns @handle into a link to the handle's profile
// under profileBase. Handles inside words, e-mail addresses, URLs and
// existing markdown links are left alone.
func RewriteUsernameMentions(text, profileBase string) string {
	base := strings.TrimRight(profileBase, "/")
	return mentionRe.ReplaceAllString(text, "${1}[@${2}]("+escapeRepl(base)+"/${2})")
}

var hashtagRe = regexp.MustCompile(`(?m)(^| )#(\w+)`)

// RewriteHashtags turns #tag into a link to the hashtag search page of the
// destination. Only a # at the start of a line or after a space qualifies.
func RewriteHashtags(text string, dest model.LinkDestination, nitterBase string) string {
	return hashtagRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := hashtagRe.FindStringSubmatch(m)
		return sub[1] + "[#" + sub[2] + "](" + HashtagURL(sub[2], dest, nitterBase) + ")"
	})
}

// HashtagURL returns the search page for tag on the destination.
func HashtagURL(tag string, dest model.LinkDestination, nitterBase string) string {
	if dest == model.DestinationNitter && nitterBase != "" {
		return strings.TrimRight(nitterBase, "/") + "/search?q=" + url.QueryEscape("#"+tag)
	}
	return TwitterBase + "/hashtag/" + tag
}

// ProfileBase returns the site profile links point at for the destination.
func ProfileBase(dest model.LinkDestination, nitterBase string) string {
	if dest == model.DestinationNitter && nitterBase != "" {
		return strings.TrimRight(nitterBase, "/")
	}
	return TwitterBase
}

var (
	subredditRe  = regexp.MustCompile(`(^|\s)/r/([^\s/]+)/?`)
	redditUserRe = regexp.MustCompile(`(^|\s)/(?:u|user)/([^\s/]+)/?`)
)

// RewriteRedditPaths links /r/name, /u/name and /user/name fragments to
// reddit.com. A fragment must start the text or follow whitespace.
func RewriteRedditPaths(text string) string {
	text = subredditRe.ReplaceAllString(text, "${1}[/r/${2}](https://reddit.com/r/${2})")
	return redditUserRe.ReplaceAllString(text, "${1}[/u/${2}](https://reddit.com/u/${2})")
}

var bareLinkRe = regexp.MustCompile(`(?m)^((?:https?://|www\.)\S*)`)

// WrapBareLinks wraps a URL that starts a line in angle brackets so chat
// clients do not render a preview card for it.
func WrapBareLinks(text string) string {
	return bareLinkRe.ReplaceAllString(text, "<${1}>")
}

// RewriteMirrors swaps YouTube and Reddit links for their configured
// mirrors, or mirror links back to the originals, depending on the group.
func RewriteMirrors(text string, g *model.Group, s model.AppSettings) string {
	text = swapMirror(text, g.ReplaceYouTube, s.PipedInstance,
		[]string{"https://www.youtube.com", "https://youtube.com"}, "https://youtube.com")
	return swapMirror(text, g.ReplaceReddit, s.TedditInstance,
		[]string{"https://www.reddit.com", "https://reddit.com"}, "https://reddit.com")
}

func swapMirror(text string, toMirror bool, mirror string, originals []string, canonical string) string {
	mirror = strings.TrimRight(mirror, "/")
	if mirror == "" {
		return text
	}
	if toMirror {
		for _, o := range originals {
			text = strings.ReplaceAll(text, o, mirror)
		}
		return text
	}
	text = strings.ReplaceAll(text, mirror, canonical)
	if host := hostOf(mirror); host != "" {
		text = strings.ReplaceAll(text, "["+host, "["+hostOf(canonical))
	}
	return text
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

// RewriteEntryLink points a mirror entry link at Twitter when the group
// links there, and drops the "#m" fragment mirrors append.
func RewriteEntryLink(link string, g *model.Group, s model.AppSettings) string {
	if g.LinkDestination != model.DestinationTwitter {
		return link
	}
	if nitter := strings.TrimRight(s.NitterInstance, "/"); nitter != "" {
		link = strings.Replace(link, nitter, TwitterBase, 1)
	}
	return strings.TrimSuffix(link, "#m")
}

func escapeRepl(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}
