// Package textnorm provides pure text-cleanup and price-parsing helpers
// shared by the DOM and recognition extraction channels.
package textnorm

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// PriceCeiling is the sanity bound for a single unit price in EUR.
// Anything at or above it is treated as a parse artifact, not a price.
const PriceCeiling = 100000

// mojibakeReplacer repairs UTF-8 German text that was decoded as Latin-1
// somewhere between the shop, the screenshot and the recognition engine.
var mojibakeReplacer = strings.NewReplacer(
	"Ã¤", "ä",
	"Ã¶", "ö",
	"Ã¼", "ü",
	"Ã„", "Ä",
	"Ã–", "Ö",
	"Ãœ", "Ü",
	"ÃŸ", "ß",
	"â‚¬", "€",
	"Â ", " ",
)

// digitConfusions maps letters the recognition engine habitually reads
// instead of digits. Applied only inside digit-heavy segments so regular
// words keep their letters.
var digitConfusions = map[rune]rune{
	'O': '0',
	'o': '0',
	'l': '1',
	'I': '1',
	'S': '5',
	'B': '8',
	'Z': '2',
	'G': '6',
	'q': '9',
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)

	// germanPrice matches "26,79", "1.234,56" and "26,79 €".
	germanPrice = regexp.MustCompile(`(\d{1,3}(?:\.\d{3})+|\d+),(\d{1,2})`)
	// plainPrice matches "26.79" and "1,234.56".
	plainPrice = regexp.MustCompile(`(\d{1,3}(?:,\d{3})+|\d+)\.(\d{1,2})`)
	// tierLine matches one row of a quantity schedule, e.g. "Ab 594 26,79 €".
	tierLine = regexp.MustCompile(`(?i)^\s*(?:ab|bis)\s+(\S+)\s+(.+?)\s*$`)
	// tierPrefix is the ab/bis keyword a quantity token may carry.
	tierPrefix = regexp.MustCompile(`(?i)^(?:ab|bis)\b\s*`)

	digitsOnly = regexp.MustCompile(`^\d+$`)
)

// requestPhrases are the shop's price-on-request affordances, compared
// case-insensitively against cleaned text.
var requestPhrases = []string{
	"preis auf anfrage",
	"auf anfrage",
	"preis anfragen",
	"angebot anfordern",
}

var germanTitle = cases.Title(language.German)

// CleanText repairs mojibake and collapses whitespace runs. It never
// returns leading or trailing whitespace.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	return CollapseWhitespace(mojibakeReplacer.Replace(s))
}

// CollapseWhitespace folds any whitespace run (including newlines) into a
// single space and trims the ends.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// FixDigitConfusions replaces letter-for-digit recognition mistakes inside
// digit-heavy segments. Segments are split on whitespace and hyphens so a
// variant suffix like "-S" in an article number survives untouched.
func FixDigitConfusions(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	segment := make([]rune, 0, 16)
	flush := func() {
		if len(segment) == 0 {
			return
		}
		b.WriteString(fixSegment(segment))
		segment = segment[:0]
	}
	for _, r := range s {
		if r == '-' || isSpace(r) {
			flush()
			b.WriteRune(r)
			continue
		}
		segment = append(segment, r)
	}
	flush()
	return b.String()
}

func fixSegment(segment []rune) string {
	digits := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits == 0 || digits*2 < len(segment) {
		return string(segment)
	}
	fixed := make([]rune, len(segment))
	for i, r := range segment {
		if mapped, ok := digitConfusions[r]; ok {
			fixed[i] = mapped
			continue
		}
		fixed[i] = r
	}
	return string(fixed)
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

// ParsePrice extracts a unit price from free text and normalizes it to a
// dot-decimal string with two places ("26.79"). It understands the German
// comma-decimal form with optional thousands dots as well as the plain
// dot-decimal form; when both could apply the longer match decides, so
// "1.234,56" parses German and "1,234.56" parses plain. Bare digit runs
// without a separator are rejected; repairing those is the sanitizer's
// job, not the parser's. Prices at or above PriceCeiling are rejected as
// artifacts.
func ParsePrice(s string) (string, bool) {
	s = CleanText(s)
	if s == "" {
		return "", false
	}
	german := germanPrice.FindStringSubmatch(s)
	plain := plainPrice.FindStringSubmatch(s)
	if german != nil && (plain == nil || len(german[0]) >= len(plain[0])) {
		whole := strings.ReplaceAll(german[1], ".", "")
		return formatPrice(whole, german[2])
	}
	if plain != nil {
		whole := strings.ReplaceAll(plain[1], ",", "")
		return formatPrice(whole, plain[2])
	}
	return "", false
}

func formatPrice(whole, fraction string) (string, bool) {
	value, err := strconv.Atoi(whole)
	if err != nil || value >= PriceCeiling {
		return "", false
	}
	if len(fraction) == 1 {
		fraction += "0"
	}
	if value == 0 && fraction == "00" {
		return "", false
	}
	return whole + "." + fraction, true
}

// ParseTierLine parses one row of a tiered-price schedule, e.g.
// "Ab 594 26,79 €" or "Bis 593 28,49 €". The quantity token is run
// through FixDigitConfusions first because schedules come from
// recognition output as often as from the DOM.
func ParseTierLine(s string) (quantity int, price string, ok bool) {
	m := tierLine.FindStringSubmatch(CleanText(s))
	if m == nil {
		return 0, "", false
	}
	qty, qtyOK := ParseQuantity(m[1])
	if !qtyOK {
		return 0, "", false
	}
	parsed, priceOK := ParsePrice(m[2])
	if !priceOK {
		return 0, "", false
	}
	return qty, parsed, true
}

// ParseQuantity parses a schedule quantity token, tolerating an ab/bis
// prefix ("Bis 593") and German thousands dots ("1.000").
func ParseQuantity(s string) (int, bool) {
	token := tierPrefix.ReplaceAllString(CleanText(s), "")
	token = FixDigitConfusions(strings.ReplaceAll(token, ".", ""))
	if !digitsOnly.MatchString(token) {
		return 0, false
	}
	qty, err := strconv.Atoi(token)
	if err != nil || qty <= 0 {
		return 0, false
	}
	return qty, true
}

// IsPriceOnRequest reports whether the text is one of the shop's
// price-on-request affordances.
func IsPriceOnRequest(s string) bool {
	cleaned := strings.ToLower(CleanText(s))
	if cleaned == "" {
		return false
	}
	for _, phrase := range requestPhrases {
		if strings.Contains(cleaned, phrase) {
			return true
		}
	}
	return false
}

// TitleCase converts shouting recognition output into German title casing.
func TitleCase(s string) string {
	return germanTitle.String(strings.ToLower(s))
}

// IsNumericPrice reports whether s is a plausible decimal price string
// ("26.79", "26"), used by validation rather than parsing.
func IsNumericPrice(s string) bool {
	if s == "" {
		return false
	}
	value, err := strconv.ParseFloat(s, 64)
	return err == nil && value > 0 && value < PriceCeiling
}
