// Package extract parses catalog HTML into categories, product links, and
// product details. Selectors are tried in fallback chains because catalog
// themes vary; the first chain entry that matches wins.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/bling0390/vivbliss/internal/catalog"
)

// Page is a parsed catalog page.
type Page struct {
	doc  *goquery.Document
	base *url.URL
}

// CategoryLink is one category or subcategory anchor found on a page.
type CategoryLink struct {
	Name string
	URL  string
}

// Parse builds a Page from raw HTML. pageURL anchors relative links.
func Parse(pageURL string, body []byte) (*Page, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{doc: doc, base: base}, nil
}

var categorySelectors = []string{
	"nav.categories a",
	".category-list a",
	".categories a",
	"ul.menu a.category",
	".sidebar .category a",
	"a[href*='/category/']",
}

// CategoryLinks returns category anchors using the first selector chain
// entry that matches anything.
func (p *Page) CategoryLinks() []CategoryLink {
	for _, selector := range categorySelectors {
		var links []CategoryLink
		p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr("href")
			if !ok {
				return
			}
			resolved, err := p.resolve(href)
			if err != nil {
				return
			}
			links = append(links, CategoryLink{
				Name: strings.TrimSpace(s.Text()),
				URL:  resolved,
			})
		})
		if len(links) > 0 {
			return links
		}
	}
	return nil
}

var productLinkSelectors = []string{
	".product-item a",
	".product a",
	"article.product a",
	"a.product-link",
	"a[href*='/product/']",
}

// ProductLinks returns product page URLs found on a category listing.
func (p *Page) ProductLinks() []string {
	for _, selector := range productLinkSelectors {
		var urls []string
		seen := make(map[string]struct{})
		p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			href, ok := s.Attr("href")
			if !ok {
				return
			}
			resolved, err := p.resolve(href)
			if err != nil {
				return
			}
			if _, dup := seen[resolved]; dup {
				return
			}
			seen[resolved] = struct{}{}
			urls = append(urls, resolved)
		})
		if len(urls) > 0 {
			return urls
		}
	}
	return nil
}

var nextPageSelectors = []string{
	"div.pagination a.next",
	"a.next",
	"a[rel='next']",
	".pagination a[aria-label='Next']",
}

// NextPageURL returns the pagination link for the following listing page.
func (p *Page) NextPageURL() (string, bool) {
	for _, selector := range nextPageSelectors {
		href, ok := p.doc.Find(selector).First().Attr("href")
		if !ok {
			continue
		}
		resolved, err := p.resolve(href)
		if err != nil {
			continue
		}
		return resolved, true
	}
	return "", false
}

// Product extracts product fields from a detail page. Name is mandatory;
// everything else degrades gracefully to empty values.
func (p *Page) Product() (catalog.Product, error) {
	name := p.firstText(
		"h1.product-title",
		"h1.product_name",
		".product-detail h1",
		"h1",
	)
	if name == "" {
		return catalog.Product{}, fmt.Errorf("no product name found at %s", p.base)
	}

	product := catalog.Product{
		Name: name,
		URL:  p.base.String(),
		SKU: p.firstText(
			".sku",
			"[itemprop='sku']",
			".product-sku",
		),
		Brand: p.firstText(
			".brand",
			"[itemprop='brand']",
			".product-brand a",
		),
		Price: p.firstText(
			".price .current",
			"span.price",
			".price",
			"[itemprop='price']",
		),
		OriginalPrice: p.firstText(
			".price .original",
			"span.original-price",
			"del.price",
		),
		StockStatus: p.stockStatus(),
		Description: p.firstText(
			".product-description",
			"#description",
			"[itemprop='description']",
			".description",
		),
	}

	p.doc.Find(".product-images img, .gallery img, [itemprop='image']").
		Each(func(_ int, s *goquery.Selection) {
			src, ok := s.Attr("src")
			if !ok {
				src, ok = s.Attr("data-src")
			}
			if !ok {
				return
			}
			if resolved, err := p.resolve(src); err == nil {
				product.ImageURLs = append(product.ImageURLs, resolved)
			}
		})

	return product, nil
}

func (p *Page) stockStatus() string {
	text := strings.ToLower(p.firstText(
		".stock-status",
		".availability",
		"[itemprop='availability']",
	))
	switch {
	case text == "":
		return ""
	case strings.Contains(text, "out"):
		return "out_of_stock"
	case strings.Contains(text, "low"):
		return "low_stock"
	default:
		return "in_stock"
	}
}

func (p *Page) firstText(selectors ...string) string {
	for _, selector := range selectors {
		if text := strings.TrimSpace(p.doc.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func (p *Page) resolve(href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	resolved := p.base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", resolved.Scheme)
	}
	return resolved.String(), nil
}

// DirectoryPath derives the directory identity of a category URL: the
// cleaned URL path plus its hierarchy level (number of path segments,
// minimum 1) and the parent directory path ("" at the top level).
func DirectoryPath(rawURL string) (path string, level int, parent string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, "", fmt.Errorf("parse category url: %w", err)
	}
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return "/", 1, "", nil
	}
	segments := strings.Split(trimmed, "/")
	path = "/" + strings.Join(segments, "/")
	level = len(segments)
	if level > 1 {
		parent = "/" + strings.Join(segments[:level-1], "/")
	}
	return path, level, parent, nil
}
