package judge

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/yuin/goldmark"
	nethtml "golang.org/x/net/html"
)

// Render returns the statement converted to the requested markup.
func (p *Problem) Render(to TextType) string {
	return RenderText(p.Text, p.TextType, to)
}

// RenderText converts text between markups without network access. When a
// conversion fails the plain text rendering is returned instead.
func RenderText(text string, from, to TextType) string {
	if from == to {
		return text
	}
	switch to {
	case Markdown:
		if from == Text {
			return text
		}
		md, err := htmltomarkdown.ConvertString(varRe.ReplaceAllString(text, "<code>$$$1$$</code>"))
		if err != nil {
			return RenderText(text, from, Text)
		}
		return strings.TrimSpace(md)
	case HTML:
		if from == Text {
			return strings.ReplaceAll(html.EscapeString(text), "\n", "<br/>")
		}
		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(text), &buf); err != nil {
			return RenderText(text, from, Text)
		}
		return buf.String()
	default:
		if from != HTML {
			return text
		}
		return strings.TrimSpace(htmlToText(text))
	}
}

var varRe = regexp.MustCompile(`(?s)<var>(.*?)</var>`)

var blockTags = map[string]bool{
	"p": true, "div": true, "table": true, "h1": true, "h2": true,
	"h3": true, "li": true, "pre": true, "tr": true,
}

// htmlToText flattens markup, keeping <pre> blocks verbatim and ending block
// elements with a newline.
func htmlToText(src string) string {
	var sb strings.Builder
	z := nethtml.NewTokenizer(strings.NewReader(src))
	pre := 0
	for {
		switch z.Next() {
		case nethtml.ErrorToken:
			return sb.String()
		case nethtml.TextToken:
			t := html.UnescapeString(string(z.Raw()))
			if pre == 0 {
				t = strings.Trim(t, "\r\n")
			}
			sb.WriteString(strings.ReplaceAll(t, "\r\n", "\n"))
		case nethtml.StartTagToken, nethtml.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "br":
				sb.WriteByte('\n')
			case "pre":
				pre++
			}
		case nethtml.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "pre" && pre > 0 {
				pre--
			}
			if blockTags[tag] {
				sb.WriteByte('\n')
			}
		}
	}
}
