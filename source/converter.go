package source

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

// Mode selects how HTML is reduced to text.
type Mode string

const (
	// ModeText keeps visible text nodes only.
	ModeText Mode = "text"

	// ModeMarkdown converts the main content to GitHub-flavored markdown.
	ModeMarkdown Mode = "markdown"
)

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

// Elements whose content is never visible text.
var hiddenElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"iframe": true, "object": true, "embed": true, "svg": true,
	"nav": true, "header": true, "footer": true, "aside": true,
	"form": true, "input": true, "button": true, "head": true,
}

// Class names that mark page chrome rather than content.
var chromeClasses = map[string]bool{
	"nav": true, "navbar": true, "navigation": true, "sidebar": true,
	"menu": true, "toc": true, "footer": true, "header": true,
	"breadcrumb": true, "advertisement": true, "share": true,
}

// Converter reduces HTML pages to text.
type Converter struct {
	mode     Mode
	markdown *md.Converter
}

// NewConverter creates a converter for the given mode. An empty mode means
// ModeText.
func NewConverter(mode Mode) (*Converter, error) {
	switch mode {
	case "":
		mode = ModeText
	case ModeText, ModeMarkdown:
	default:
		return nil, fmt.Errorf("unknown text mode %q", mode)
	}

	c := &Converter{mode: mode}
	if mode == ModeMarkdown {
		c.markdown = md.NewConverter("", true, nil)
		c.markdown.Use(plugin.GitHubFlavored())
	}
	return c, nil
}

// Convert returns the page title and its text.
func (c *Converter) Convert(content []byte) (title, text string, err error) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	title = findTitle(doc)
	root := mainContent(doc)

	if c.mode == ModeMarkdown {
		var sb strings.Builder
		if err := html.Render(&sb, root); err != nil {
			return "", "", fmt.Errorf("render html: %w", err)
		}
		text, err = c.markdown.ConvertString(sb.String())
		if err != nil {
			return "", "", fmt.Errorf("convert markdown: %w", err)
		}
		return title, tidy(text), nil
	}

	return title, tidy(visibleText(root)), nil
}

// findTitle returns the trimmed content of the first <title> element.
func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
		return strings.TrimSpace(n.FirstChild.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

// mainContent picks <main>, <article> or [role=main], falling back to the
// whole document with chrome removed.
func mainContent(doc *html.Node) *html.Node {
	for _, match := range []func(*html.Node) bool{
		func(n *html.Node) bool { return n.Data == "main" },
		func(n *html.Node) bool { return n.Data == "article" },
		func(n *html.Node) bool { return attr(n, "role") == "main" },
	} {
		if node := findElement(doc, match); node != nil {
			return node
		}
	}
	removeChrome(doc)
	return doc
}

func findElement(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func isChrome(n *html.Node) bool {
	for _, class := range strings.Fields(strings.ToLower(attr(n, "class"))) {
		if chromeClasses[class] {
			return true
		}
	}
	return false
}

// removeChrome detaches hidden and chrome elements in place.
func removeChrome(n *html.Node) {
	var toRemove []*html.Node
	var collect func(*html.Node)
	collect = func(node *html.Node) {
		if node.Type == html.ElementNode && (hiddenElements[node.Data] || isChrome(node)) {
			toRemove = append(toRemove, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)

	for _, node := range toRemove {
		if node.Parent != nil {
			node.Parent.RemoveChild(node)
		}
	}
}

// visibleText joins the text nodes under n, one line per node.
func visibleText(n *html.Node) string {
	var lines []string
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && hiddenElements[node.Data] {
			return
		}
		if node.Type == html.TextNode {
			if line := strings.Join(strings.Fields(node.Data), " "); line != "" {
				lines = append(lines, line)
			}
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(lines, "\n")
}

func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(excessiveLinesRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
