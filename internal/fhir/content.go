package fhir

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Content is the decoded text of a document.
type Content struct {
	Text        string
	ContentType string
}

// Empty reports whether there is no text to index.
func (c Content) Empty() bool {
	return strings.TrimSpace(c.Text) == ""
}

// DocumentContent returns the text of a document's first content entry.
// Inline attachment data is preferred over a Binary URL. HTML is reduced to text.
func (c *Client) DocumentContent(ctx context.Context, doc *DocumentReference) (Content, error) {
	if len(doc.Content) == 0 {
		return Content{}, nil
	}

	att := doc.Content[0].Attachment
	data, contentType := att.Data, att.ContentType

	if data == "" && att.URL != "" {
		bin, err := c.ReadBinary(ctx, att.URL)
		if err != nil {
			return Content{}, fmt.Errorf("failed to read document content: %w", err)
		}
		data = bin.Data
		if bin.ContentType != "" {
			contentType = bin.ContentType
		}
	}
	if data == "" {
		return Content{}, nil
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Content{}, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}

	return decodeContent(raw, contentType)
}

var blankRun = regexp.MustCompile(`\n{3,}`)

func decodeContent(raw []byte, contentType string) (Content, error) {
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(contentType)
	}

	text := string(raw)
	if mediaType == "text/html" || mediaType == "application/xhtml+xml" {
		text, err = htmlText(text)
		if err != nil {
			return Content{}, err
		}
	}

	return Content{Text: text, ContentType: mediaType}, nil
}

// htmlText extracts readable text, keeping paragraph and line breaks.
func htmlText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("%w: failed to parse HTML: %v", ErrInvalidContent, err)
	}

	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, tr, li, h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	lines := strings.Split(doc.Text(), "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text := blankRun.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text), nil
}
