package extract

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/antchfx/htmlquery"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// DetectCharset guesses the encoding of raw markup, defaulting to utf-8.
func DetectCharset(data []byte) string {
	if utf8.Valid(data) {
		return "utf-8"
	}
	// Without a BOM or <meta> declaration DetermineEncoding falls back to windows-1252.
	if _, name, certain := charset.DetermineEncoding(data, ""); certain || name != "windows-1252" {
		return name
	}
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}

// LoadHTML parses raw markup into a node tree, transcoding to UTF-8 first.
func LoadHTML(data []byte) (*html.Node, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyDocument
	}
	r, err := charset.NewReader(bytes.NewReader(data), "text/html; charset="+DetectCharset(data))
	if err != nil {
		return htmlquery.Parse(bytes.NewReader(data))
	}
	return htmlquery.Parse(r)
}
