// Package model defines the domain types used across the application.
package model

import (
	"strings"
	"time"
)

// GroupNameSeparator may not appear in a group name.
const GroupNameSeparator = ";"

// LinkDestination selects where generated profile and hashtag links point.
type LinkDestination string

// Supported link destinations.
const (
	DestinationTwitter LinkDestination = "Twitter"
	DestinationNitter  LinkDestination = "Nitter"
)

// Mode is one output format of a delivered entry.
type Mode string

// Supported delivery modes.
const (
	ModeText  Mode = "text"
	ModeEmbed Mode = "embed"
	ModeLink  Mode = "link"
)

// Group is a named bundle of source accounts, destination webhooks and
// formatting/filtering rules.
type Group struct {
	UUID      string   `json:"uuid"`
	Name      string   `json:"name"`
	Usernames []string `json:"usernames"`
	Webhooks  []string `json:"webhooks"`
	Feeds     []string `json:"rss_feeds"`

	SendRetweets    bool `json:"send_retweets"`
	SendReplies     bool `json:"send_replies"`
	OnlySendIfMedia bool `json:"only_send_if_media"`

	SendAsEmbed    bool `json:"send_as_embed"`
	SendAsText     bool `json:"send_as_text"`
	SendAsLink     bool `json:"send_as_link"`
	AppendUsername bool `json:"send_as_text_username"`

	EmbedColor         string `json:"embed_color"`
	EmbedAuthorName    string `json:"embed_author_name"`
	EmbedFooterText    string `json:"embed_footer_text"`
	EmbedFooterIconURL string `json:"embed_footer_icon_url"`
	EmbedImage         string `json:"embed_image"`
	EmbedTimestamp     bool   `json:"embed_timestamp"`
	EmbedShowTitle     bool   `json:"embed_show_title"`
	EmbedShowAuthor    bool   `json:"embed_show_author"`

	LinkDestination  LinkDestination `json:"link_destination"`
	UsernameLinks    bool            `json:"username_link"`
	HashtagLinks     bool            `json:"hashtag_link"`
	RedditLinks      bool            `json:"reddit_link"`
	HideLinkPreviews bool            `json:"hide_link_previews"`
	ReplaceYouTube   bool            `json:"replace_youtube"`
	ReplaceReddit    bool            `json:"replace_reddit"`

	Translate     bool   `json:"translate"`
	TranslateFrom string `json:"translate_from"`
	TranslateTo   string `json:"translate_to"`

	UnescapeHTML    bool `json:"unescape_html"`
	RemoveCopyright bool `json:"remove_copyright"`
	RemoveUTM       bool `json:"remove_utm"`

	WhitelistEnabled bool     `json:"whitelist_enabled"`
	Whitelist        []string `json:"whitelist"`
	WhitelistRegex   []string `json:"whitelist_regex"`
	BlacklistEnabled bool     `json:"blacklist_enabled"`
	Blacklist        []string `json:"blacklist"`
	BlacklistRegex   []string `json:"blacklist_regex"`

	CreatedAt time.Time `json:"created_at"`
}

// NewGroup returns a group populated with default settings.
func NewGroup(name string) Group {
	return Group{
		Name:             name,
		SendRetweets:     true,
		SendAsEmbed:      true,
		AppendUsername:   true,
		EmbedColor:       "#1DA1F2",
		EmbedFooterText:  "Twitter",
		EmbedTimestamp:   true,
		EmbedShowAuthor:  true,
		LinkDestination:  DestinationTwitter,
		UsernameLinks:    true,
		HashtagLinks:     true,
		RedditLinks:      true,
		HideLinkPreviews: true,
		TranslateFrom:    "auto",
		TranslateTo:      "en-GB",
		UnescapeHTML:     true,
		RemoveCopyright:  true,
		RemoveUTM:        true,
	}
}

// Modes returns the delivery modes enabled on the group, in delivery order.
func (g *Group) Modes() []Mode {
	var modes []Mode
	if g.SendAsLink {
		modes = append(modes, ModeLink)
	}
	if g.SendAsText {
		modes = append(modes, ModeText)
	}
	if g.SendAsEmbed {
		modes = append(modes, ModeEmbed)
	}
	return modes
}

// Feed is one polled RSS endpoint.
type Feed struct {
	URL           string
	Title         string
	Link          string
	ImageURL      string
	LastUpdatedAt *time.Time
	LastError     string
	CreatedAt     time.Time
}

// Handle returns the "@handle" part of a Nitter-style feed title
// ("Display Name / @handle"), or "" when the title has no handle.
func (f *Feed) Handle() string {
	_, handle, ok := strings.Cut(f.Title, " / @")
	if !ok {
		return ""
	}
	return "@" + handle
}

// DisplayName returns the feed title without the handle suffix.
func (f *Feed) DisplayName() string {
	name, _, _ := strings.Cut(f.Title, " / @")
	return name
}

// Entry is one item from a feed.
type Entry struct {
	FeedURL   string
	ID        string
	Title     string
	Summary   string
	Link      string
	Author    string
	Published *time.Time
	ImageURLs []string
	Read      bool
	FetchedAt time.Time
}

// Malformed reports whether the entry lacks the fields needed to route it.
func (e *Entry) Malformed() bool {
	return e.Published == nil || e.Title == ""
}

// AppSettings holds process-wide defaults.
type AppSettings struct {
	NitterInstance  string
	DeepLAuthKey    string
	PipedInstance   string
	TedditInstance  string
	DelayMinutes    int
	MaxAgeHours     int
	SendErrors      bool
	ErrorWebhookURL string
}

// DefaultSettings returns the settings applied when none are stored.
func DefaultSettings() AppSettings {
	return AppSettings{
		NitterInstance: "https://nitter.lovinator.space",
		PipedInstance:  "https://piped.video",
		TedditInstance: "https://teddit.net",
		DelayMinutes:   10,
		MaxAgeHours:    24,
	}
}

// Normalize trims trailing slashes from instance URLs and clamps the delay.
func (s AppSettings) Normalize() AppSettings {
	s.NitterInstance = strings.TrimRight(s.NitterInstance, "/")
	s.PipedInstance = strings.TrimRight(s.PipedInstance, "/")
	s.TedditInstance = strings.TrimRight(s.TedditInstance, "/")
	if s.DelayMinutes < 1 {
		s.DelayMinutes = 1
	}
	return s
}
