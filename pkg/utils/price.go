package utils

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	numericRe = regexp.MustCompile(`\d[\d.,]*`)
	digitRe   = regexp.MustCompile(`\d`)
)

// ParsePrice converts a scraped price string ("Rp1.250.000", "$12.99",
// "1,299") to a float64. A string with no digits parses to 0.
func ParsePrice(priceStr string) float64 {
	if priceStr == "" || !digitRe.MatchString(priceStr) {
		return 0
	}

	match := numericRe.FindString(priceStr)
	if match == "" {
		return 0
	}

	// Indonesian prices use '.' as thousands separator and ',' as decimal
	// separator; western prices the other way around. Treat a separator as
	// decimal only when it is followed by at most two digits at the end.
	match = normalizeSeparators(match)

	price, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return price
}

func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	sepIdx := lastDot
	if lastComma > lastDot {
		sepIdx = lastComma
	}

	decimal := ""
	if sepIdx >= 0 && len(s)-sepIdx-1 <= 2 {
		decimal = s[sepIdx+1:]
		s = s[:sepIdx]
	}

	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", "")
	if decimal != "" {
		s = s + "." + decimal
	}
	return s
}

// ParseRating extracts a numeric rating from strings like
// "4.5 out of 5 stars" or "4,8". Values above 5 are clamped to 0 because
// they are sold counts or review counts matched by mistake.
func ParseRating(ratingStr string) float64 {
	if ratingStr == "" {
		return 0
	}

	match := regexp.MustCompile(`\d+([.,]\d+)?`).FindString(ratingStr)
	if match == "" {
		return 0
	}
	match = strings.ReplaceAll(match, ",", ".")

	rating, err := strconv.ParseFloat(match, 64)
	if err != nil || rating > 5 {
		return 0
	}
	return rating
}

// ParseCount extracts an integer count from strings like "1,2k sold",
// "3.4rb terjual" or "(1.234)".
func ParseCount(s string) int {
	if s == "" {
		return 0
	}
	lower := strings.ToLower(s)

	match := regexp.MustCompile(`\d+([.,]\d+)?`).FindString(lower)
	if match == "" {
		return 0
	}
	match = strings.ReplaceAll(match, ",", ".")

	val, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}

	switch {
	case strings.Contains(lower, "jt"):
		val *= 1_000_000
	case strings.Contains(lower, "rb") || strings.Contains(lower, "k"):
		val *= 1_000
	default:
		// Plain counts like "1.234" use '.' as thousands separator.
		if strings.Contains(s, ".") {
			plain := strings.ReplaceAll(regexp.MustCompile(`[\d.]+`).FindString(s), ".", "")
			if n, err := strconv.Atoi(plain); err == nil {
				return n
			}
		}
	}
	return int(val)
}
