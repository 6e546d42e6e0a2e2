// Package forum extracts thread ids and thread content from the forum's HTML.
//
// Listing pages link every thread with an anchor named "readlink" whose href
// looks like "read-htm-tid-<id>...". Detail pages (mobile layout) carry the
// title in div.ui-list-title and the post body in div.detail. Bodies must
// already be UTF-8; fetchers transcode the forum's GBK pages.
package forum

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/threadcrawler/internal/crawler"
)

// ErrMissingElement is returned when a detail page lacks an expected element.
var ErrMissingElement = errors.New("expected element missing")

var threadHref = regexp.MustCompile(`^read-htm-tid-(\d+)`)

const (
	listingSelector = `a[name="readlink"]`
	titleSelector   = "div.ui-list-title"
	detailSelector  = "div.detail"
)

// Parser implements crawler.ListingParser and crawler.DetailParser. It is stateless.
type Parser struct{}

// New builds a Parser.
func New() *Parser {
	return &Parser{}
}

// ParseListing returns the thread ids linked from a listing page, in page order.
func (p *Parser) ParseListing(body []byte) ([]string, error) {
	doc, err := p.document(body)
	if err != nil {
		return nil, err
	}
	var ids []string
	doc.Find(listingSelector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		if m := threadHref.FindStringSubmatch(href); m != nil {
			ids = append(ids, m[1])
		}
	})
	return ids, nil
}

// ParseDetail extracts the title, text content and raw content markup of a thread.
func (p *Parser) ParseDetail(body []byte) (crawler.Detail, error) {
	doc, err := p.document(body)
	if err != nil {
		return crawler.Detail{}, err
	}
	title := doc.Find(titleSelector).First()
	if title.Length() == 0 {
		return crawler.Detail{}, fmt.Errorf("%s: %w", titleSelector, ErrMissingElement)
	}
	detail := doc.Find(detailSelector).First()
	if detail.Length() == 0 {
		return crawler.Detail{}, fmt.Errorf("%s: %w", detailSelector, ErrMissingElement)
	}
	raw, err := goquery.OuterHtml(detail)
	if err != nil {
		return crawler.Detail{}, fmt.Errorf("render %s: %w", detailSelector, err)
	}
	return crawler.Detail{
		Title:      strings.TrimSpace(ownText(title)),
		Content:    strings.TrimSpace(detail.Text()),
		RawContent: raw,
	}, nil
}

func (p *Parser) document(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// ownText returns the first non-blank text node directly under the selection,
// skipping text that belongs to child elements (author badges, dates).
func ownText(s *goquery.Selection) string {
	var text string
	s.Contents().EachWithBreak(func(_ int, c *goquery.Selection) bool {
		if goquery.NodeName(c) != "#text" {
			return true
		}
		if t := strings.TrimSpace(c.Text()); t != "" {
			text = t
			return false
		}
		return true
	})
	return text
}
