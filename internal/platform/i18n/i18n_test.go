package i18n

import (
	"net/http/httptest"
	"testing"
)

func TestParseLocale(t *testing.T) {
	tests := []struct {
		value  string
		locale string
		ok     bool
	}{
		{"en-US", "en-US", true},
		{"pt-BR", "pt-BR", true},
		{"pt", "pt-BR", true},
		{"en", "en-US", true},
		{"", "en-US", false},
		{"not-a-tag!!", "en-US", false},
	}
	for _, tt := range tests {
		locale, ok := ParseLocale(tt.value)
		if locale != tt.locale || ok != tt.ok {
			t.Errorf("ParseLocale(%q) = (%q, %v), want (%q, %v)", tt.value, locale, ok, tt.locale, tt.ok)
		}
	}
}

func TestResolveLocaleQueryParamWins(t *testing.T) {
	r := httptest.NewRequest("GET", "/realtime?lang=pt-BR", nil)
	r.Header.Set("Accept-Language", "en-US")
	if got := ResolveLocale(r); got != "pt-BR" {
		t.Fatalf("locale = %q, want pt-BR", got)
	}
}

func TestResolveLocaleFromAcceptLanguage(t *testing.T) {
	r := httptest.NewRequest("GET", "/realtime", nil)
	r.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.5")
	if got := ResolveLocale(r); got != "pt-BR" {
		t.Fatalf("locale = %q, want pt-BR", got)
	}
}

func TestResolveLocaleDefaults(t *testing.T) {
	r := httptest.NewRequest("GET", "/realtime", nil)
	if got := ResolveLocale(r); got != DefaultLocale {
		t.Fatalf("locale = %q, want %q", got, DefaultLocale)
	}
	if got := ResolveLocale(nil); got != DefaultLocale {
		t.Fatalf("locale = %q, want %q", got, DefaultLocale)
	}
}
