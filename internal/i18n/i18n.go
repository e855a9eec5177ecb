// Package i18n holds the console's user-facing strings in Chinese and
// English. The active language is a client preference; the server only
// reads it to pick a table.
package i18n

import (
	"fmt"
	"maps"

	"golang.org/x/text/language"
)

// Lang is a supported console language.
type Lang string

const (
	EN Lang = "en"
	ZH Lang = "zh"
)

// Default is used when nothing the client sends matches.
const Default = EN

var (
	supported = []Lang{EN, ZH}
	matcher   = language.NewMatcher([]language.Tag{language.English, language.Chinese})
)

// Supported returns the languages in matcher order.
func Supported() []Lang {
	return append([]Lang(nil), supported...)
}

// Negotiate picks a language from candidates in priority order. Each
// candidate may be a bare code ("zh"), a tag ("zh-CN") or a full
// Accept-Language header. Empty candidates are skipped.
func Negotiate(candidates ...string) Lang {
	var in []string
	for _, c := range candidates {
		if c != "" {
			in = append(in, c)
		}
	}
	if len(in) == 0 {
		return Default
	}
	_, idx := language.MatchStrings(matcher, in...)
	return supported[idx]
}

// T renders key in lang. Missing translations fall back to English, and
// missing keys render as the key itself.
func T(lang Lang, key string, args ...any) string {
	msg, ok := tables[lang][key]
	if !ok {
		msg, ok = tables[EN][key]
	}
	if !ok {
		return key
	}
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// Table returns a copy of the full string table for lang.
func Table(lang Lang) map[string]string {
	t, ok := tables[lang]
	if !ok {
		t = tables[Default]
	}
	return maps.Clone(t)
}
