package judge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderTextFromHTML(t *testing.T) {
	p := Problem{
		ID:       "1_A",
		Text:     "<div><p>Hello&amp;bye</p><pre>1 2\n3</pre>line<br/>next</div>",
		TextType: HTML,
	}
	require.Equal(t, "Hello&bye\n1 2\n3\nline\nnext", p.Render(Text))
}

func TestRenderMarkdownIsVerbatimText(t *testing.T) {
	p := Problem{Text: "# Title\n\n$a+b$", TextType: Markdown}
	require.Equal(t, p.Text, p.Render(Text))
	require.Equal(t, p.Text, p.Render(Markdown))
}

func TestRenderHTMLFromText(t *testing.T) {
	p := Problem{Text: "a < b\nc", TextType: Text}
	require.Equal(t, "a &lt; b<br/>c", p.Render(HTML))
}

func TestRenderHTMLFromMarkdown(t *testing.T) {
	p := Problem{Text: "# Title", TextType: Markdown}
	require.Contains(t, p.Render(HTML), "<h1>Title</h1>")
}

func TestRenderMarkdownFromHTML(t *testing.T) {
	p := Problem{Text: "<h3>Input</h3><p>Read <var>N</var>.</p>", TextType: HTML}
	md := p.Render(Markdown)
	require.True(t, strings.Contains(md, "### Input"), md)
	require.Contains(t, md, "$N$")
}
