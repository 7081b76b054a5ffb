// Package i18n negotiates the locale used for user-facing system and error
// messages.
package i18n

import (
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

// LangParam is the query parameter used to select a language explicitly.
const LangParam = "lang"

// DefaultLocale is used when negotiation finds no supported match.
const DefaultLocale = "en-US"

var supported = []language.Tag{
	language.MustParse("en-US"),
	language.MustParse("pt-BR"),
}

var matcher = language.NewMatcher(supported)

// SupportedLocales returns the locales messages exist for.
func SupportedLocales() []string {
	out := make([]string, len(supported))
	for i, tag := range supported {
		out[i] = tag.String()
	}
	return out
}

// ParseLocale maps a raw tag to a supported locale. The bool reports whether
// the value matched a supported locale.
func ParseLocale(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return DefaultLocale, false
	}
	tag, err := language.Parse(value)
	if err != nil {
		return DefaultLocale, false
	}
	_, index, confidence := matcher.Match(tag)
	if confidence == language.No {
		return DefaultLocale, false
	}
	return supported[index].String(), true
}

// ResolveLocale determines the locale for a request: an explicit lang query
// parameter wins, then the Accept-Language header, then the default.
func ResolveLocale(r *http.Request) string {
	if r == nil {
		return DefaultLocale
	}

	if value := strings.TrimSpace(r.URL.Query().Get(LangParam)); value != "" {
		if locale, ok := ParseLocale(value); ok {
			return locale
		}
	}

	if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil && len(tags) > 0 {
			_, index, confidence := matcher.Match(tags...)
			if confidence != language.No {
				return supported[index].String()
			}
		}
	}

	return DefaultLocale
}
