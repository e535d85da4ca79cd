package reader

import (
	"html"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// Applied in order; "_&apos;" must precede "&apos;".
var symbolReplacements = [][2]string{
	{"_eq_", "="},
	{"_and_", "&"},
	{"_hash_", "#"},
	{"_&apos;", "'"},
	{"&apos;", "'"},
	{"&middot;", "•"},
}

// DecodeSymbols undoes the token escaping Fever applies to titles.
func DecodeSymbols(s string) string {
	for _, r := range symbolReplacements {
		s = strings.ReplaceAll(s, r[0], r[1])
	}
	return s
}

var strict = bluemonday.StrictPolicy()

// Excerpt returns up to max runes of the item html as plain text.
func Excerpt(itemHTML string, max int) string {
	text := html.UnescapeString(strict.Sanitize(itemHTML))
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:max])) + "…"
}

// PrettyDate describes how long before now t was, e.g. "just now",
// "an hour ago", "Yesterday" or "3 weeks ago". Times after now yield "".
func PrettyDate(t, now time.Time) string {
	diff := now.Sub(t)
	if diff < 0 {
		return ""
	}
	days := int64(diff / (24 * time.Hour))
	secs := int64((diff - time.Duration(days)*24*time.Hour) / time.Second)

	if days == 0 {
		switch {
		case secs < 10:
			return "just now"
		case secs < 60:
			return strconv.FormatInt(secs, 10) + " seconds ago"
		case secs < 120:
			return "a minute ago"
		case secs < 3600:
			return roundStr(float64(secs)/60) + " minutes ago"
		case secs < 7200:
			return "an hour ago"
		default:
			return roundStr(float64(secs)/3600) + " hours ago"
		}
	}
	if days == 1 {
		return "Yesterday"
	}
	if days < 7 {
		return strconv.FormatInt(days, 10) + " days ago"
	}
	if days < 31 {
		return plural(float64(days)/7, "week")
	}
	if days < 365 {
		return plural(float64(days)/30, "month")
	}
	return plural(float64(days)/365, "year")
}

func plural(v float64, unit string) string {
	n := roundStr(v)
	if n == "1" {
		return n + " " + unit + " ago"
	}
	return n + " " + unit + "s ago"
}

// roundStr rounds half to even.
func roundStr(v float64) string {
	return strconv.FormatInt(int64(math.RoundToEven(v)), 10)
}
