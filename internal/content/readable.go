// ABOUTME: Readable article extraction for entries whose feed only carries a summary
// ABOUTME: Wraps go-readability and sanitizes the extracted HTML like feed descriptions

package content

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"

	"codeberg.org/readeck/go-readability"
)

// Article is the main content of a web page.
type Article struct {
	Title string
	HTML  string
}

// Extract pulls the main article out of an HTML page. pageURL resolves
// relative links and may be empty.
func Extract(page []byte, pageURL string) (*Article, error) {
	if len(page) == 0 {
		return nil, errors.New("extract: empty page")
	}
	var base *url.URL
	if pageURL != "" {
		u, err := url.Parse(pageURL)
		if err != nil {
			return nil, fmt.Errorf("extract: %w", err)
		}
		base = u
	}

	article, err := readability.FromReader(bytes.NewReader(page), base)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	if article.Content == "" {
		return nil, errors.New("extract: no content found")
	}
	return &Article{Title: article.Title, HTML: Sanitize(article.Content)}, nil
}
