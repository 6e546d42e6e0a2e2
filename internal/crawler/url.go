package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// URLTemplates builds listing and detail URLs from printf-style templates.
// Listing must contain exactly one %d (the page) and Detail exactly one %s (the thread id).
type URLTemplates struct {
	Listing string
	Detail  string
}

// Validate checks that both templates carry their single verb and parse as absolute URLs.
func (t URLTemplates) Validate() error {
	if strings.Count(t.Listing, "%") != 1 || !strings.Contains(t.Listing, "%d") {
		return fmt.Errorf("listing url template %q must contain exactly one %%d", t.Listing)
	}
	if strings.Count(t.Detail, "%") != 1 || !strings.Contains(t.Detail, "%s") {
		return fmt.Errorf("detail url template %q must contain exactly one %%s", t.Detail)
	}
	for _, raw := range []string{t.ListingURL(1), t.DetailURL("1")} {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse url: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("url %q must be absolute", raw)
		}
	}
	return nil
}

// ListingURL returns the URL of a listing page.
func (t URLTemplates) ListingURL(page int) string {
	return fmt.Sprintf(t.Listing, page)
}

// DetailURL returns the URL of a thread's detail page.
func (t URLTemplates) DetailURL(id string) string {
	return fmt.Sprintf(t.Detail, url.QueryEscape(id))
}
