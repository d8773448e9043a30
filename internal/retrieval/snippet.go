package retrieval

import (
	"errors"
	"net/url"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
)

// Snippet is the part of a result page handed to the synthesis prompt.
type Snippet struct {
	URL   string
	Title string
	Text  string
}

var errNoText = errors.New("no readable text")

// Extract pulls a title and a short description out of a fetched page.
// The description comes from the first of: meta description, og:description,
// the first non-empty paragraph, the first prose block of a markdown
// rendering, the page text. Whitespace is collapsed and the text is capped
// at maxChars runes.
func Extract(pageURL, body string, maxChars int) (Snippet, error) {
	if maxChars <= 0 {
		maxChars = DefaultSnippetChars
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return Snippet{}, err
	}

	title := collapse(doc.Find("title").First().Text())
	if title == "" {
		title = metaContent(doc, `meta[property="og:title"]`)
	}
	if title == "" {
		title = hostOf(pageURL)
	}

	text := metaContent(doc, `meta[name="description"]`)
	if text == "" {
		text = metaContent(doc, `meta[property="og:description"]`)
	}
	if text == "" {
		doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text = collapse(s.Text())
			return text == ""
		})
	}
	if text == "" {
		text = markdownLead(body)
	}
	if text == "" {
		doc.Find("script, style, noscript").Remove()
		text = collapse(doc.Find("body").Text())
	}
	if text == "" {
		return Snippet{}, errNoText
	}
	return Snippet{URL: pageURL, Title: title, Text: truncate(text, maxChars)}, nil
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return collapse(v)
}

// markdownLead returns the first prose block of the page rendered as
// markdown, skipping headings, lists and link-only lines.
func markdownLead(body string) string {
	md, err := htmltomarkdown.ConvertString(body)
	if err != nil {
		return ""
	}
	for _, block := range strings.Split(md, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" || strings.HasPrefix(block, "#") || strings.HasPrefix(block, "- ") ||
			strings.HasPrefix(block, "* ") || strings.HasPrefix(block, "[") || strings.HasPrefix(block, "!") {
			continue
		}
		return collapse(block)
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:max])) + "..."
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
