// Package filter decides whether an entry is delivered to a group.
package filter

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"

	"feed_relay/internal/model"
)

// Title prefixes the mirror uses to mark retweets and replies.
const (
	RetweetPrefix = "RT by "
	ReplyPrefix   = "R to "
)

// Verdict is the outcome of evaluating one entry for one group.
type Verdict string

// Possible verdicts, in evaluation order.
const (
	Admitted       Verdict = "admitted"
	TooOld         Verdict = "too_old"
	NotWhitelisted Verdict = "not_whitelisted"
	Blacklisted    Verdict = "blacklisted"
	Retweet        Verdict = "retweet"
	Reply          Verdict = "reply"
	NoMedia        Verdict = "no_media"
)

// regexCache holds compiled patterns; a nil value marks an invalid pattern.
var regexCache = newRegexCache()

func newRegexCache() *lru.Cache[string, *regexp.Regexp] {
	c, err := lru.New[string, *regexp.Regexp](512)
	if err != nil {
		panic(fmt.Sprintf("create regex cache: %v", err))
	}
	return c
}

// IsRetweet reports whether the entry title marks a retweet.
func IsRetweet(e *model.Entry) bool {
	return strings.HasPrefix(e.Title, RetweetPrefix)
}

// IsReply reports whether the entry title marks a reply.
func IsReply(e *model.Entry) bool {
	return strings.HasPrefix(e.Title, ReplyPrefix)
}

var replyTargetRe = regexp.MustCompile(`R to @(\w+)`)

// ReplyTarget returns the handle a reply is addressed to, or "".
func ReplyTarget(title string) string {
	m := replyTargetRe.FindStringSubmatch(title)
	if m == nil {
		return ""
	}
	return m[1]
}

// IsTooOld reports whether the entry was published more than maxAgeHours
// before now. Retweets carry the original post's date and are never too
// old. Malformed entries and a non-positive maxAgeHours disable the check.
func IsTooOld(e *model.Entry, maxAgeHours int, now time.Time) bool {
	if maxAgeHours <= 0 || e.Malformed() || IsRetweet(e) {
		return false
	}
	return now.Sub(*e.Published) > time.Duration(maxAgeHours)*time.Hour
}

// MatchesWhitelist reports whether any whitelist word or pattern matches
// the entry title.
func MatchesWhitelist(g *model.Group, e *model.Entry) bool {
	return matchesAny(e.Title, g.Whitelist, g.WhitelistRegex)
}

// MatchesBlacklist reports whether any blacklist word or pattern matches
// the entry title.
func MatchesBlacklist(g *model.Group, e *model.Entry) bool {
	return matchesAny(e.Title, g.Blacklist, g.BlacklistRegex)
}

func matchesAny(title string, words, patterns []string) bool {
	lower := strings.ToLower(title)
	for _, w := range words {
		if w == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if re := compile(p); re != nil && re.MatchString(title) {
			return true
		}
	}
	return false
}

func compile(pattern string) *regexp.Regexp {
	if re, ok := regexCache.Get(pattern); ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		re = nil
	}
	regexCache.Add(pattern, re)
	return re
}

// HasMedia reports whether the entry body embeds an image or a video.
func HasMedia(e *model.Entry) bool {
	if len(e.ImageURLs) > 0 {
		return true
	}
	if e.Summary == "" {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(e.Summary))
	if err != nil {
		return false
	}
	return doc.Find(`img, video, source[type="video/mp4"]`).Length() > 0
}

// Evaluate returns the first reason the entry is not delivered to the
// group, or Admitted.
func Evaluate(g *model.Group, e *model.Entry, maxAgeHours int, now time.Time) Verdict {
	switch {
	case IsTooOld(e, maxAgeHours, now):
		return TooOld
	case g.WhitelistEnabled && !MatchesWhitelist(g, e):
		return NotWhitelisted
	case g.BlacklistEnabled && MatchesBlacklist(g, e):
		return Blacklisted
	case IsRetweet(e) && !g.SendRetweets:
		return Retweet
	case IsReply(e) && !g.SendReplies:
		return Reply
	case g.OnlySendIfMedia && !HasMedia(e):
		return NoMedia
	}
	return Admitted
}

// Admit reports whether the entry is delivered to the group.
func Admit(g *model.Group, e *model.Entry, maxAgeHours int, now time.Time) bool {
	return Evaluate(g, e, maxAgeHours, now) == Admitted
}

// ValidateRegex checks whether a pattern is a valid regular expression.
func ValidateRegex(pattern string) error {
	_, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	return nil
}
