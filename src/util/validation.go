package util

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"recon-server/src/models"
)

const DateLayout = models.DateLayout

var currencyCodeRe = regexp.MustCompile(`^[A-Za-z]{3}$`)

// ValidateCurrencyCode accepts ISO-4217 style three letter codes in either case.
func ValidateCurrencyCode(code string) bool {
	return currencyCodeRe.MatchString(strings.TrimSpace(code))
}

// ParseDate parses a YYYY-MM-DD date. Empty input yields nil.
func ParseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ParseIntList parses "1,2,3". Empty input yields nil.
func ParseIntList(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func ValidateRuleName(name string) bool {
	n := len(strings.TrimSpace(name))
	return n >= 1 && n <= 200
}
