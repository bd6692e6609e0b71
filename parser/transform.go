// Package parser turns auction listing documents into table entities.
package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// Null is the bare token written for absent nullable fields.
const Null = "NULL"

var nonDecimal = regexp.MustCompile(`[^0-9.]`)

var months = map[string]string{
	"Jan": "01", "Feb": "02", "Mar": "03", "Apr": "04", "May": "05", "Jun": "06",
	"Jul": "07", "Aug": "08", "Sep": "09", "Oct": "10", "Nov": "11", "Dec": "12",
}

// TransformDollar strips everything but digits and the decimal point, so
// "$3,453.23" becomes "3453.23". Empty input is returned unchanged.
func TransformDollar(money string) string {
	if money == "" {
		return money
	}
	return nonDecimal.ReplaceAllString(money, "")
}

// NullableDollar applies TransformDollar to a possibly absent amount.
func NullableDollar(money *string) *string {
	if money == nil {
		return nil
	}
	out := TransformDollar(*money)
	return &out
}

// TransformMonth converts a month abbreviation such as "Dec" to "12".
// Unknown names are returned as given.
func TransformMonth(mon string) string {
	if num, ok := months[mon]; ok {
		return num
	}
	return mon
}

// TransformDttm rewrites "Mon-DD-YY HH:MM:SS" as "20YY-MM-DD HH:MM:SS".
func TransformDttm(dttm string) (string, error) {
	parts := strings.Split(strings.TrimSpace(dttm), " ")
	if len(parts) < 2 {
		return "", fmt.Errorf("%w: %q", ErrMalformedTimestamp, dttm)
	}
	date := strings.Split(parts[0], "-")
	if len(date) < 3 {
		return "", fmt.Errorf("%w: %q", ErrMalformedTimestamp, dttm)
	}
	return "20" + date[2] + "-" + TransformMonth(date[0]) + "-" + date[1] + " " + parts[1], nil
}

// Escape doubles embedded double quotes.
func Escape(s string) string {
	return strings.ReplaceAll(s, `"`, `""`)
}

// Quote escapes s and wraps it in double quotes.
func Quote(s string) string {
	return `"` + Escape(s) + `"`
}

// QuoteOrNull quotes s, or returns the bare Null token when s is nil.
func QuoteOrNull(s *string) string {
	if s == nil {
		return Null
	}
	return Quote(*s)
}
