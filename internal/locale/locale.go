package locale

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"
)

const (
	// CookieName is the cookie the UI stores the chosen locale in.
	CookieName = "NEXT_LOCALE"

	headerRobotsTag = "X-Robots-Tag"
	robotsNoIndex   = "noindex, nofollow"
)

var invalidPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/\$$`),
	regexp.MustCompile(`/&$`),
	regexp.MustCompile(`/月$`),
	regexp.MustCompile(`/month$`),
	regexp.MustCompile(`/year$`),
	regexp.MustCompile(`/cdn-cgi/`),
}

var verificationPrefixes = []string{"/baidu_verify", "/yandex_"}

var preconnectOrigins = []string{
	"https://www.googletagmanager.com",
	"https://hm.baidu.com",
	"https://accounts.google.com",
}

var securityHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "SAMEORIGIN",
	"Referrer-Policy":        "strict-origin-when-cross-origin",
}

// Resolver picks a supported locale for a request.
type Resolver struct {
	supported     []string
	defaultLocale string
	matcher       language.Matcher
}

// NewResolver builds a Resolver. defaultLocale must be in supported.
func NewResolver(supported []string, defaultLocale string) (*Resolver, error) {
	if len(supported) == 0 {
		return nil, fmt.Errorf("locale: at least one locale is required")
	}
	tags := make([]language.Tag, 0, len(supported)+1)
	defaultTag, err := language.Parse(defaultLocale)
	if err != nil {
		return nil, fmt.Errorf("locale: default %q: %w", defaultLocale, err)
	}
	tags = append(tags, defaultTag)
	known := false
	for _, name := range supported {
		tag, err := language.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("locale: %q: %w", name, err)
		}
		if name == defaultLocale {
			known = true
		}
		tags = append(tags, tag)
	}
	if !known {
		return nil, fmt.Errorf("locale: default %q not in %v", defaultLocale, supported)
	}
	return &Resolver{supported: supported, defaultLocale: defaultLocale, matcher: language.NewMatcher(tags)}, nil
}

// Default returns the fallback locale.
func (resolver *Resolver) Default() string {
	return resolver.defaultLocale
}

// Supported reports whether name is a configured locale.
func (resolver *Resolver) Supported(name string) bool {
	for _, candidate := range resolver.supported {
		if candidate == name {
			return true
		}
	}
	return false
}

// Resolve checks the URL prefix, then the cookie, then Accept-Language.
func (resolver *Resolver) Resolve(path string, cookie string, acceptLanguage string) string {
	if prefix := firstSegment(path); resolver.Supported(prefix) {
		return prefix
	}
	if resolver.Supported(cookie) {
		return cookie
	}
	if acceptLanguage == "" {
		return resolver.defaultLocale
	}
	preferred, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(preferred) == 0 {
		return resolver.defaultLocale
	}
	_, index, confidence := resolver.matcher.Match(preferred...)
	if confidence == language.No || index == 0 {
		return resolver.defaultLocale
	}
	return resolver.supported[index-1]
}

// IsInvalidPath reports paths that must answer 410 Gone.
func IsInvalidPath(path string) bool {
	for _, prefix := range verificationPrefixes {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	for _, pattern := range invalidPathPatterns {
		if pattern.MatchString(path) {
			return true
		}
	}
	return false
}

// PreconnectLink is the Link header value sent with every response.
func PreconnectLink() string {
	links := make([]string, 0, len(preconnectOrigins))
	for _, origin := range preconnectOrigins {
		links = append(links, "<"+origin+">; rel=preconnect")
	}
	return strings.Join(links, ", ")
}

// Middleware rejects junk URLs, sets response headers and stores the locale via store.
func Middleware(resolver *Resolver, store func(*gin.Context, string)) gin.HandlerFunc {
	link := PreconnectLink()
	return func(context *gin.Context) {
		path := context.Request.URL.Path
		if IsInvalidPath(path) {
			context.Header(headerRobotsTag, robotsNoIndex)
			context.AbortWithStatus(http.StatusGone)
			return
		}
		context.Header("Link", link)
		for name, value := range securityHeaders {
			context.Header(name, value)
		}
		cookie, _ := context.Cookie(CookieName)
		if store != nil {
			store(context, resolver.Resolve(path, cookie, context.GetHeader("Accept-Language")))
		}
		context.Next()
	}
}

func firstSegment(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if index := strings.IndexByte(trimmed, '/'); index >= 0 {
		return trimmed[:index]
	}
	return trimmed
}
