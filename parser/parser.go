package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// ValidateProduct ensures the extractor captured the required fields.
func ValidateProduct(p *models.Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("product missing name")
	}
	u, err := url.Parse(p.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("product %q has non-absolute url %q", p.Name, p.URL)
	}
	return nil
}

// CategoryName derives the canonical name of a listing segment: the token
// before the first hyphen, uppercased. "HAIR-456" and "hair-456-x" both
// yield "HAIR".
func CategoryName(segment string) string {
	segment = strings.TrimSpace(segment)
	if i := strings.Index(segment, "-"); i >= 0 {
		segment = segment[:i]
	}
	return strings.ToUpper(segment)
}

// ListingSegments splits an href into its path segments, ignoring leading
// and trailing slashes, the query, and the fragment. Absolute hrefs are
// reduced to their path.
func ListingSegments(href string) []string {
	href = strings.TrimSpace(href)
	if href == "" {
		return nil
	}
	u, err := url.Parse(href)
	if err != nil {
		return nil
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// SlugName turns a detail-path slug into a readable name.
func SlugName(slug string) string {
	slug = strings.Trim(slug, "/")
	return strings.TrimSpace(strings.ReplaceAll(slug, "-", " "))
}

// DetailSlug returns the path segment following marker in href, if any.
// DetailSlug("/details/rose-oil/12/", "/details/") == "rose-oil".
func DetailSlug(href, marker string) string {
	i := strings.Index(href, marker)
	if i < 0 {
		return ""
	}
	rest := href[i+len(marker):]
	if j := strings.IndexAny(rest, "/?#"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

// NormalizeText collapses internal whitespace and trims the ends.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// FileStem converts a category name into a filename stem.
func FileStem(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "&", "AND")
	return strings.ReplaceAll(name, "/", "_")
}

// MatchCategory compares a requested filter against a discovered name.
func MatchCategory(name, filter string) bool {
	return strings.EqualFold(strings.TrimSpace(name), strings.TrimSpace(filter))
}
