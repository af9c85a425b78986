package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	emailPattern   = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	phonePattern   = regexp.MustCompile(`[+]?[(]?[0-9]{3}[)]?[-\s.]?[0-9]{3}[-\s.]?[0-9]{4,6}`)
	websitePattern = regexp.MustCompile(`https?://(?:[-\w.]|%[\da-fA-F]{2})+`)
	numberPattern  = regexp.MustCompile(`[0-9][0-9.,]*`)
)

// CleanText collapses every run of Unicode whitespace, NBSP included, to one
// space and trims the ends.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FindEmail returns the first email address in text.
func FindEmail(text string) string {
	return emailPattern.FindString(text)
}

// FindPhone returns the first phone-like number in text.
func FindPhone(text string) string {
	return strings.TrimSpace(phonePattern.FindString(text))
}

// FindWebsite returns the scheme and host of the first URL in text.
func FindWebsite(text string) string {
	return websitePattern.FindString(text)
}

// ParseRating reads a decimal rating such as "4.5" or "4,5".
func ParseRating(s string) (*float64, bool) {
	m := numberPattern.FindString(CleanText(s))
	if m == "" {
		return nil, false
	}
	m = strings.ReplaceAll(m, ",", ".")
	v, err := strconv.ParseFloat(strings.TrimRight(m, "."), 64)
	if err != nil {
		return nil, false
	}
	return &v, true
}

// ParseReviewCount reads a review total such as "(1,234)" or "1.234 reviews".
func ParseReviewCount(s string) (*int, bool) {
	m := numberPattern.FindString(CleanText(s))
	if m == "" {
		return nil, false
	}
	digits := strings.NewReplacer(",", "", ".", "").Replace(m)
	v, err := strconv.Atoi(digits)
	if err != nil {
		return nil, false
	}
	return &v, true
}
