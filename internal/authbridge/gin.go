package authbridge

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/pixmind/internal/authevents"
	"github.com/gin-gonic/gin"
)

const (
	contextKeyIdentity = "pixmind.identity"
	contextKeyLocale   = "pixmind.locale"
	// HeaderAuthEvent tells the client which auth event it should react to.
	HeaderAuthEvent = "X-Auth-Event"
	cookiePath      = "/"
)

// GinJar adapts request cookies to CredentialJar; Clear writes an expiring cookie.
type GinJar struct {
	context *gin.Context
	secure  bool
}

// NewGinJar wraps the gin context.
func NewGinJar(context *gin.Context, secure bool) *GinJar {
	return &GinJar{context: context, secure: secure}
}

func (jar *GinJar) Get(name string) (string, bool) {
	value, err := jar.context.Cookie(name)
	if err != nil {
		return "", false
	}
	return value, true
}

func (jar *GinJar) Clear(name string) {
	jar.context.SetCookie(name, "", -1, cookiePath, "", jar.secure, true)
}

// RequireIdentity resolves the caller or aborts with 401 and the auth event.
func RequireIdentity(resolver *Resolver, secureCookies bool) gin.HandlerFunc {
	return func(context *gin.Context) {
		identity, err := resolver.Resolve(context.Request.Context(), NewGinJar(context, secureCookies), context.GetHeader("Authorization"), context.GetString(contextKeyLocale))
		if err != nil {
			AbortUnauthorized(context, err)
			return
		}
		context.Set(contextKeyIdentity, identity)
		context.Next()
	}
}

// AbortUnauthorized writes the 401 body the UI uses to open its sign-in dialog.
func AbortUnauthorized(context *gin.Context, err error) {
	event := authevents.Event{Type: authevents.EventUnauthorized, Message: "sign in required"}
	var expired *ExpiredError
	if errors.As(err, &expired) {
		event = expired.Event
		if event.Message == "" {
			event.Message = "login expired"
		}
	}
	context.Header(HeaderAuthEvent, string(event.Type))
	context.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    http.StatusUnauthorized,
		"message": event.Message,
		"event":   event.Type,
	})
}

// IdentityFrom returns the identity stored by RequireIdentity.
func IdentityFrom(context *gin.Context) (Identity, bool) {
	value, ok := context.Get(contextKeyIdentity)
	if !ok {
		return Identity{}, false
	}
	identity, ok := value.(Identity)
	return identity, ok
}

// SetLocale stores the resolved request locale for hub calls.
func SetLocale(context *gin.Context, locale string) {
	context.Set(contextKeyLocale, locale)
}

// LocaleFrom returns the locale stored by SetLocale.
func LocaleFrom(context *gin.Context) string {
	return context.GetString(contextKeyLocale)
}
