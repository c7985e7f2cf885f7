// Package translate implements a DeepL translation client.
package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/carlmjohnson/requests"
)

// DeepL API endpoints.
const (
	ProURL  = "https://api.deepl.com/v2/translate"
	FreeURL = "https://api-free.deepl.com/v2/translate"
)

// ErrNoAuthKey is returned when no DeepL key is configured.
var ErrNoAuthKey = errors.New("deepl auth key is not set")

// DeepL translates text through the DeepL REST API.
type DeepL struct {
	client  *http.Client
	key     func() string
	baseURL string
}

// New creates a DeepL client. key is called on every request so that a
// reloaded setting takes effect without rebuilding the client. A non-empty
// baseURL replaces the endpoint derived from the key.
func New(client *http.Client, key func() string, baseURL string) *DeepL {
	if client == nil {
		client = http.DefaultClient
	}
	return &DeepL{client: client, key: key, baseURL: baseURL}
}

type response struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}

// Translate translates HTML text. from may be "auto" or empty to let DeepL
// detect the source language.
func (d *DeepL) Translate(ctx context.Context, text, from, to string) (string, error) {
	key := strings.TrimSpace(d.key())
	if key == "" {
		return "", ErrNoAuthKey
	}

	form := url.Values{}
	form.Set("text", text)
	form.Set("target_lang", strings.ToUpper(to))
	form.Set("tag_handling", "html")
	if from != "" && !strings.EqualFold(from, "auto") {
		form.Set("source_lang", strings.ToUpper(from))
	}

	var resp response
	err := requests.URL(d.endpoint(key)).
		Client(d.client).
		Post().
		Header("Authorization", "DeepL-Auth-Key "+key).
		BodyForm(form).
		ToJSON(&resp).
		Fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("translate text: %w", err)
	}
	if len(resp.Translations) == 0 {
		return "", errors.New("translate text: empty response")
	}
	return resp.Translations[0].Text, nil
}

func (d *DeepL) endpoint(key string) string {
	if d.baseURL != "" {
		return d.baseURL
	}
	if strings.HasSuffix(key, ":fx") {
		return FreeURL
	}
	return ProURL
}
