package telegramtransport

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
)

// markdownRenderer is a shared goldmark instance with the strikethrough
// extension, matching the Markdown dialect Telegram clients expect.
var markdownRenderer = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough),
)

// ToTelegramHTML converts Markdown text to Telegram-compatible HTML.
//
// Telegram's Bot API supports a limited HTML subset:
//
//	<b>, <strong>, <i>, <em>, <u>, <ins>, <s>, <strike>, <del>,
//	<code>, <pre>, <a href>, <blockquote>
//
// Everything else is mapped onto that subset or stripped.
func ToTelegramHTML(md string) string {
	if strings.TrimSpace(md) == "" {
		return md
	}

	var buf bytes.Buffer
	if err := markdownRenderer.Convert([]byte(md), &buf); err != nil {
		return html.EscapeString(md)
	}
	return htmlToTelegram(buf.String())
}

// htmlToTelegram walks goldmark's HTML output token-by-token and rewrites
// it into Telegram-safe HTML, tracking list and <pre> state along the way.
func htmlToTelegram(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))

	var sb strings.Builder
	type listState struct {
		ordered bool
		counter int
	}
	var listStack []listState
	inPre := false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		tok := z.Token()

		switch tt {
		case html.TextToken:
			sb.WriteString(html.EscapeString(tok.Data))

		case html.StartTagToken, html.SelfClosingTagToken:
			switch tok.Data {
			case "b", "strong":
				sb.WriteString("<b>")
			case "i", "em":
				sb.WriteString("<i>")
			case "u", "ins":
				sb.WriteString("<u>")
			case "s", "strike", "del":
				sb.WriteString("<s>")
			case "code":
				if !inPre {
					sb.WriteString("<code>")
				}
			case "pre":
				inPre = true
				sb.WriteString("<pre>")
			case "a":
				href := attrVal(tok.Attr, "href")
				if href != "" {
					fmt.Fprintf(&sb, `<a href="%s">`, html.EscapeString(href))
				} else {
					sb.WriteString("<a>")
				}
			case "blockquote":
				sb.WriteString("<blockquote>")
			case "br":
				sb.WriteString("\n")
			case "ul":
				listStack = append(listStack, listState{ordered: false})
			case "ol":
				listStack = append(listStack, listState{ordered: true})
			case "li":
				if len(listStack) > 0 {
					top := &listStack[len(listStack)-1]
					if top.ordered {
						top.counter++
						fmt.Fprintf(&sb, "\n%d. ", top.counter)
					} else {
						sb.WriteString("\n• ")
					}
				} else {
					sb.WriteString("\n• ")
				}
			case "h1", "h2", "h3", "h4", "h5", "h6":
				sb.WriteString("<b>")
			case "hr":
				sb.WriteString("\n──────────\n")
			}

		case html.EndTagToken:
			switch tok.Data {
			case "b", "strong":
				sb.WriteString("</b>")
			case "i", "em":
				sb.WriteString("</i>")
			case "u", "ins":
				sb.WriteString("</u>")
			case "s", "strike", "del":
				sb.WriteString("</s>")
			case "code":
				if !inPre {
					sb.WriteString("</code>")
				}
			case "pre":
				inPre = false
				sb.WriteString("</pre>")
			case "a":
				sb.WriteString("</a>")
			case "blockquote":
				sb.WriteString("</blockquote>")
			case "p":
				sb.WriteString("\n\n")
			case "ul", "ol":
				if len(listStack) > 0 {
					listStack = listStack[:len(listStack)-1]
				}
				sb.WriteString("\n")
			case "h1", "h2", "h3", "h4", "h5", "h6":
				sb.WriteString("</b>\n\n")
			}
		}
	}

	result := strings.TrimSpace(sb.String())
	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}
	return result
}

func attrVal(attrs []html.Attribute, name string) string {
	for _, a := range attrs {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
