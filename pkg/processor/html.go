package processor

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTMLToMarkdown reduces parsed HTML to the markdown subset the chunker
// understands: h1-h4 become headers, paragraphs and list items become lines,
// table rows are joined with " | ".
func HTMLToMarkdown(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}
	doc.Find("script, style, head").Remove()

	var lines []string
	doc.Find("h1, h2, h3, h4, p, li, tr").Each(func(_ int, s *goquery.Selection) {
		tag := goquery.NodeName(s)
		switch tag {
		case "h1", "h2", "h3", "h4":
			if text := cleanText(s.Text()); text != "" {
				level := int(tag[1] - '0')
				lines = append(lines, strings.Repeat("#", level)+" "+text)
			}
		case "tr":
			var cells []string
			s.Find("th, td").Each(func(_ int, c *goquery.Selection) {
				cells = append(cells, cleanText(c.Text()))
			})
			if len(cells) > 0 {
				lines = append(lines, strings.Join(cells, " | "))
			}
		default:
			// Paragraphs inside list items or cells, and nested list items,
			// are covered by their container.
			if tag == "p" && s.ParentsFiltered("li, td, th").Length() > 0 {
				return
			}
			if tag == "li" && s.ParentsFiltered("li").Length() > 0 {
				return
			}
			if text := cleanText(s.Text()); text != "" {
				lines = append(lines, text)
			}
		}
	})

	if len(lines) == 0 {
		return cleanText(doc.Text()), nil
	}
	return strings.Join(lines, "\n"), nil
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
