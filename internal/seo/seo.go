package seo

import (
	"encoding/xml"
	"fmt"
	"html"
	"strings"
	"time"
)

const (
	sitemapNamespace = "http://www.sitemaps.org/schemas/sitemap/0.9"
	xhtmlNamespace   = "http://www.w3.org/1999/xhtml"
	defaultOGTitle   = "Pixmind"
	defaultOGDesc    = "AI Image Generation & Analysis Platform"
	maxOGTextRunes   = 120
)

// Page is one static route listed in the sitemap.
type Page struct {
	Path            string
	Priority        float64
	ChangeFrequency string
}

// StaticPages are the public routes of the site.
var StaticPages = []Page{
	{Path: "", Priority: 1.0, ChangeFrequency: "daily"},
	{Path: "/pricing", Priority: 0.9, ChangeFrequency: "weekly"},
	{Path: "/showcase", Priority: 0.8, ChangeFrequency: "weekly"},
	{Path: "/blog", Priority: 0.8, ChangeFrequency: "daily"},
	{Path: "/about", Priority: 0.7, ChangeFrequency: "monthly"},
	{Path: "/contact", Priority: 0.7, ChangeFrequency: "monthly"},
	{Path: "/affiliate-program", Priority: 0.7, ChangeFrequency: "monthly"},
	{Path: "/developer/api", Priority: 0.6, ChangeFrequency: "monthly"},
	{Path: "/image-to-prompt", Priority: 0.9, ChangeFrequency: "weekly"},
	{Path: "/image-to-image", Priority: 0.8, ChangeFrequency: "weekly"},
	{Path: "/text-to-prompt", Priority: 0.8, ChangeFrequency: "weekly"},
	{Path: "/txt-to-image", Priority: 0.8, ChangeFrequency: "weekly"},
	{Path: "/video-generate", Priority: 0.8, ChangeFrequency: "weekly"},
	{Path: "/video-to-prompt", Priority: 0.8, ChangeFrequency: "weekly"},
}

type robotsGroup struct {
	userAgent string
	disallow  []string
}

var privatePaths = []string{"/api/", "/admin/", "/auth/"}

var robotsGroups = []robotsGroup{
	{userAgent: "*", disallow: append(append([]string{}, privatePaths...),
		"/*?*session_id=*",
		"/*?*checkout_id=*",
		"/*?*order_no=*",
		"/?tab=*",
		"/cdn-cgi/",
		"/$",
		"/&",
		"/月",
		"/month",
		"/year",
	)},
	{userAgent: "GPTBot", disallow: privatePaths},
	{userAgent: "Google-Extended", disallow: privatePaths},
	{userAgent: "ClaudeBot", disallow: privatePaths},
	{userAgent: "CCBot", disallow: privatePaths},
	{userAgent: "PerplexityBot", disallow: privatePaths},
	{userAgent: "FacebookBot", disallow: privatePaths},
}

// Site renders crawler documents for one public base URL.
type Site struct {
	baseURL       string
	locales       []string
	defaultLocale string
	pages         []Page
}

// NewSite validates its inputs. defaultLocale must be one of locales.
func NewSite(baseURL string, locales []string, defaultLocale string) (*Site, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("seo: base url is required")
	}
	found := false
	for _, locale := range locales {
		if locale == defaultLocale {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("seo: default locale %q not in %v", defaultLocale, locales)
	}
	return &Site{baseURL: baseURL, locales: locales, defaultLocale: defaultLocale, pages: StaticPages}, nil
}

// Robots renders robots.txt.
func (site *Site) Robots() string {
	var builder strings.Builder
	for _, group := range robotsGroups {
		fmt.Fprintf(&builder, "User-Agent: %s\nAllow: /\n", group.userAgent)
		for _, path := range group.disallow {
			fmt.Fprintf(&builder, "Disallow: %s\n", path)
		}
		builder.WriteString("\n")
	}
	fmt.Fprintf(&builder, "Sitemap: %s/sitemap.xml\n", site.baseURL)
	return builder.String()
}

type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	XHTML   string       `xml:"xmlns:xhtml,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Location        string          `xml:"loc"`
	LastModified    string          `xml:"lastmod"`
	ChangeFrequency string          `xml:"changefreq"`
	Priority        string          `xml:"priority"`
	Alternates      []alternateLink `xml:"xhtml:link"`
}

type alternateLink struct {
	Rel      string `xml:"rel,attr"`
	HrefLang string `xml:"hreflang,attr"`
	Href     string `xml:"href,attr"`
}

// Sitemap renders sitemap.xml with one entry per page and locale.
func (site *Site) Sitemap(modified time.Time) ([]byte, error) {
	document := urlSet{XMLNS: sitemapNamespace, XHTML: xhtmlNamespace}
	lastModified := modified.UTC().Format(time.RFC3339)
	for _, locale := range site.locales {
		for _, page := range site.pages {
			entry := sitemapURL{
				Location:        site.PageURL(locale, page.Path),
				LastModified:    lastModified,
				ChangeFrequency: page.ChangeFrequency,
				Priority:        fmt.Sprintf("%.1f", page.Priority),
			}
			for _, alternate := range site.locales {
				entry.Alternates = append(entry.Alternates, alternateLink{
					Rel:      "alternate",
					HrefLang: alternate,
					Href:     site.PageURL(alternate, page.Path),
				})
			}
			document.URLs = append(document.URLs, entry)
		}
	}
	encoded, err := xml.MarshalIndent(document, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("seo: encode sitemap: %w", err)
	}
	return append([]byte(xml.Header), encoded...), nil
}

// PageURL builds the absolute URL of path for locale. The default locale is unprefixed.
func (site *Site) PageURL(locale string, path string) string {
	if locale != site.defaultLocale {
		path = "/" + locale + path
	}
	if path == "" {
		path = "/"
	}
	return site.baseURL + path
}

// OpenGraphImage renders a 1200x630 SVG card.
func OpenGraphImage(title string, description string) string {
	title = clip(strings.TrimSpace(title), defaultOGTitle)
	description = clip(strings.TrimSpace(description), defaultOGDesc)
	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="1200" height="630" viewBox="0 0 1200 630">
  <defs>
    <linearGradient id="bg" x1="0" y1="0" x2="1" y2="1">
      <stop offset="0%%" stop-color="#667eea"/>
      <stop offset="100%%" stop-color="#764ba2"/>
    </linearGradient>
  </defs>
  <rect width="1200" height="630" fill="url(#bg)"/>
  <text x="600" y="170" font-size="48" font-weight="bold" fill="#ffffff" text-anchor="middle">Pixmind</text>
  <text x="600" y="320" font-size="72" font-weight="bold" fill="#ffffff" text-anchor="middle">%s</text>
  <text x="600" y="410" font-size="32" fill="#E0E7FF" text-anchor="middle">%s</text>
  <text x="600" y="540" font-size="20" fill="#ffffff" text-anchor="middle">AI Image Tools</text>
</svg>
`, html.EscapeString(title), html.EscapeString(description))
}

func clip(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	runes := []rune(value)
	if len(runes) > maxOGTextRunes {
		return string(runes[:maxOGTextRunes]) + "…"
	}
	return value
}
