package model

import (
	"strconv"
	"strings"
)

// parseFloatLoose tolerates thousands separators and surrounding
// whitespace, since customs file exports are rarely clean numeric columns.
func parseFloatLoose(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
