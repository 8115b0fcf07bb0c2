package collector

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

// 本文抽出の際に取り除く要素
const boilerplateSelector = "script, style, noscript, iframe, object, embed, form, nav, header, footer, aside, " +
	".nav, .navbar, .sidebar, .menu, .footer, .header, .advertisement, .social, .share, .comments, .related, .breadcrumb"

// ConvertResult は HTML から抽出した記事
type ConvertResult struct {
	Title string
	Text  string
}

// Converter は記事ページの本文を Markdown テキストとして抽出する
type Converter struct {
	converter *md.Converter
}

// NewConverter は新しい Converter を作成する
func NewConverter() *Converter {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &Converter{converter: converter}
}

// Convert は main / article / [role=main] / body の順に本文領域を選んで変換する
func (c *Converter) Convert(content []byte) (*ConvertResult, error) {
	root, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	title := cleanText(doc.Find("title").First())
	doc.Find(boilerplateSelector).Remove()

	var area *goquery.Selection
	for _, sel := range []string{"main", "article", "[role=main]", "body"} {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			area = s
			break
		}
	}
	if area == nil {
		area = doc.Selection
	}

	text := cleanMarkdown(c.converter.Convert(area))
	if title == "" {
		title = markdownTitle(text)
	}
	return &ConvertResult{Title: title, Text: text}, nil
}

func cleanMarkdown(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	content = strings.Join(lines, "\n")
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

func markdownTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
