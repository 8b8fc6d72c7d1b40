package main

import (
	"bytes"
	"html"
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	strip "github.com/grokify/html-strip-tags-go"
	"github.com/muesli/reflow/wordwrap"
)

const renderWidth = 80

var preBlockRegExp = regexp.MustCompile(`(?s)<pre[^>]*>(.*?)</pre>`)

// renderMessage turns a Mumble rich-text message into plain terminal
// text: <pre> blocks are syntax highlighted, everything else has its
// HTML stripped and is wrapped to the terminal width.
func renderMessage(text string, syntaxHighlighting bool) string {
	var blocks []string
	text = preBlockRegExp.ReplaceAllStringFunc(text, func(match string) string {
		code := html.UnescapeString(preBlockRegExp.FindStringSubmatch(match)[1])
		if syntaxHighlighting {
			code = highlightCode(code)
		}
		blocks = append(blocks, code)
		return "\x00"
	})

	text = html.UnescapeString(strip.StripTags(text))
	text = wordwrap.String(text, renderWidth)

	for _, block := range blocks {
		text = strings.Replace(text, "\x00", block, 1)
	}
	return strings.TrimSpace(text)
}

func highlightCode(code string) string {
	var b bytes.Buffer
	if err := quick.Highlight(&b, code, "", "terminal256", "pygments"); err != nil {
		return code
	}
	return b.String()
}
