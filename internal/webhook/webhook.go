// Package webhook posts messages to Discord-compatible webhooks.
package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/carlmjohnson/requests"
	"golang.org/x/time/rate"
)

// Discord limits.
const (
	MaxContentRunes     = 2000
	MaxDescriptionRunes = 4096
	MaxEmbeds           = 10
)

const maxResponseBody = 4 << 10

// Message is the JSON body of one webhook execution.
type Message struct {
	Content   string  `json:"content,omitempty"`
	Username  string  `json:"username,omitempty"`
	AvatarURL string  `json:"avatar_url,omitempty"`
	Embeds    []Embed `json:"embeds,omitempty"`
}

// Embed is one rich embed.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Image       *EmbedImage  `json:"image,omitempty"`
}

// EmbedAuthor is the author block of an embed.
type EmbedAuthor struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

// EmbedFooter is the footer block of an embed.
type EmbedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

// EmbedImage is an image attached to an embed.
type EmbedImage struct {
	URL string `json:"url"`
}

// Result describes the outcome of one delivery.
type Result struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

// OK reports whether the webhook accepted the message.
func (r Result) OK() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.URL, r.Err)
	}
	return fmt.Sprintf("%s: status %d: %s", r.URL, r.StatusCode, r.Body)
}

// Sender delivers messages, limiting the rate per webhook URL.
type Sender struct {
	client  *http.Client
	timeout time.Duration
	every   time.Duration
	burst   int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures a Sender.
type Option func(*Sender)

// WithRate sets the per-URL rate: n requests per period.
func WithRate(n int, per time.Duration) Option {
	return func(s *Sender) {
		if n > 0 && per > 0 {
			s.every = per / time.Duration(n)
		}
	}
}

// WithTimeout sets the timeout of a single delivery.
func WithTimeout(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSender creates a Sender. A nil client uses http.DefaultClient.
func NewSender(client *http.Client, opts ...Option) *Sender {
	if client == nil {
		client = http.DefaultClient
	}
	s := &Sender{
		client:   client,
		timeout:  10 * time.Second,
		every:    400 * time.Millisecond,
		burst:    1,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sender) limiter(url string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.limiters[url]
	if !ok {
		l = rate.NewLimiter(rate.Every(s.every), s.burst)
		s.limiters[url] = l
	}
	return l
}

// Send posts msg to url once. Non-2xx responses are reported in the
// result, not as Err.
func (s *Sender) Send(ctx context.Context, url string, msg Message) Result {
	res := Result{URL: url}
	if err := s.limiter(url).Wait(ctx); err != nil {
		res.Err = fmt.Errorf("wait for rate limit: %w", err)
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := requests.URL(url).
		Client(s.client).
		Post().
		BodyJSON(msg).
		AddValidator(nil).
		Handle(func(resp *http.Response) error {
			defer func() { _ = resp.Body.Close() }()
			res.StatusCode = resp.StatusCode
			body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			res.Body = string(body)
			return nil
		}).
		Fetch(ctx)
	if err != nil {
		res.Err = fmt.Errorf("post webhook: %w", err)
	}
	return res
}

// SendAll posts msg to every url in order.
func (s *Sender) SendAll(ctx context.Context, urls []string, msg Message) []Result {
	results := make([]Result, 0, len(urls))
	for _, u := range urls {
		results = append(results, s.Send(ctx, u, msg))
	}
	return results
}

// Poster sends one message to one webhook.
type Poster interface {
	Send(ctx context.Context, url string, msg Message) Result
}

// Reporter forwards error summaries to a single webhook.
type Reporter struct {
	sender Poster
	url    string
}

// NewReporter creates a Reporter posting to url.
func NewReporter(sender Poster, url string) *Reporter {
	return &Reporter{sender: sender, url: url}
}

// Report posts text to the error webhook. Long text is truncated.
func (r *Reporter) Report(ctx context.Context, text string) error {
	if r.url == "" {
		return nil
	}
	res := r.sender.Send(ctx, r.url, Message{Content: Truncate(text, MaxContentRunes)})
	if !res.OK() {
		return fmt.Errorf("report error: %s", res)
	}
	return nil
}

// Truncate shortens s to at most n runes, ending with "..." when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
