// Package transform turns raw entry markup into the text posted to webhooks.
package transform

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

var sanitizer = newSanitizer()

func newSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("p", "br", "b", "strong", "i", "em", "blockquote", "q",
		"pre", "code", "s", "del", "strike", "a", "img", "span", "div")
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("src", "alt").OnElements("img")
	return p
}

// autolinkRe matches "<https://...>" runs left by earlier passes so the HTML
// parser keeps them as text instead of reading them as tags.
var autolinkRe = regexp.MustCompile(`<((?:https?:|www\.)[^\s<>]*)>`)

// hrefRewriter may replace the target of an anchor given its visible text.
type hrefRewriter func(text, href string) string

// HTMLToMarkup converts the supported HTML subset into lightweight markup:
// **bold**, *italic*, ">>> " quotes, `code`, [text](href) links and
// ~~strikethrough~~. Images are dropped, line breaks and paragraph ends become
// newlines, and any other tag is reduced to its text.
func HTMLToMarkup(src string) string {
	return convert(src, nil)
}

func convert(src string, rewrite hrefRewriter) string {
	src = autolinkRe.ReplaceAllString(src, "&lt;$1&gt;")
	clean := sanitizer.Sanitize(src)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(clean))
	if err != nil {
		return strings.TrimSpace(clean)
	}

	wrap(doc.Find("b, strong"), "**", "**")
	wrap(doc.Find("i, em"), "*", "*")
	wrap(doc.Find("blockquote, q"), ">>> ", "")
	wrap(doc.Find("pre, code").Not("pre code"), "`", "`")

	doc.Find("img").Remove()

	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		text := a.Text()
		if strings.TrimSpace(text) == "" {
			a.Remove()
			return
		}
		href, _ := a.Attr("href")
		if href == "" {
			a.ReplaceWithNodes(textNode(text))
			return
		}
		if rewrite != nil {
			href = rewrite(text, href)
		}
		a.ReplaceWithNodes(textNode("[" + text + "](" + href + ")"))
	})

	wrap(doc.Find("s, del, strike"), "~~", "~~")

	doc.Find("br").Each(func(_ int, br *goquery.Selection) {
		br.ReplaceWithNodes(textNode("\n"))
	})
	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		p.AppendNodes(textNode("\n"))
	})

	return strings.TrimSpace(doc.Find("body").Text())
}

func wrap(sel *goquery.Selection, prefix, suffix string) {
	sel.Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			if prefix != "" {
				n.InsertBefore(textNode(prefix), n.FirstChild)
			}
			if suffix != "" {
				n.AppendChild(textNode(suffix))
			}
		}
	})
}

func textNode(data string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: data}
}
