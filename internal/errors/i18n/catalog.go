// Package i18n formats user-facing error messages per locale.
package i18n

import (
	"strings"
	"text/template"
)

// Code mirrors the machine-readable error codes as plain strings to avoid an
// import cycle with the errors package.
type Code = string

// Catalog holds the localized message templates for one locale.
type Catalog struct {
	messages map[Code]string
}

// Format renders the message for code, substituting metadata into
// {{.Key}} placeholders. Unknown codes fall back to the code itself.
func (c *Catalog) Format(code Code, metadata map[string]string) string {
	if c == nil {
		return code
	}
	raw, ok := c.messages[code]
	if !ok {
		return code
	}
	if len(metadata) == 0 || !strings.Contains(raw, "{{") {
		return raw
	}

	tmpl, err := template.New(code).Parse(raw)
	if err != nil {
		return raw
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, metadata); err != nil {
		return raw
	}
	return sb.String()
}

// GetCatalog returns the catalog for the locale, defaulting to en-US.
func GetCatalog(locale string) *Catalog {
	switch strings.ToLower(strings.TrimSpace(locale)) {
	case "pt-br", "pt_br", "pt":
		return ptBRCatalog
	default:
		return enUSCatalog
	}
}
