package planfile

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var dayUnit = regexp.MustCompile(`(\d+)d`)

// ParseDuration parses plan timeout tokens. It accepts everything
// time.ParseDuration does plus a day unit, so "1d", "2d12h" and "90m" are
// all valid. Plan timeouts are always positive; zero and negative values
// are rejected.
func ParseDuration(token string) (time.Duration, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return 0, fmt.Errorf("empty duration")
	}
	expanded := dayUnit.ReplaceAllStringFunc(trimmed, func(match string) string {
		days, _ := strconv.Atoi(strings.TrimSuffix(match, "d"))
		return strconv.Itoa(days*24) + "h"
	})
	d, err := time.ParseDuration(expanded)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", token, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", token)
	}
	return d, nil
}
