package extract

import (
	"bytes"
	"fmt"
	"os"

	"github.com/PuerkitoBio/goquery"
)

type HTML struct{}

func (HTML) Extract(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}

	doc.Find("script, style, nav, footer, header").Remove()
	text := doc.Find("body").Text()
	if text == "" {
		text = doc.Text()
	}

	return collapseBlankRuns(text), nil
}
