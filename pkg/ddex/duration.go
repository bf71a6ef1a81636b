package ddex

import (
	"regexp"
	"strconv"
)

var isoDurationRegexp = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)(?:\.\d+)?S)?$`)

// parseISODuration converts the ISO 8601 duration form DDEX uses (PT1H2M3S)
// into whole seconds. Fractional seconds are truncated.
func parseISODuration(raw string) (int, bool) {
	m := isoDurationRegexp.FindStringSubmatch(raw)
	if m == nil || (m[1] == "" && m[2] == "" && m[3] == "") {
		return 0, false
	}
	total := 0
	if m[1] != "" {
		h, _ := strconv.Atoi(m[1])
		total += h * 3600
	}
	if m[2] != "" {
		min, _ := strconv.Atoi(m[2])
		total += min * 60
	}
	if m[3] != "" {
		s, _ := strconv.Atoi(m[3])
		total += s
	}
	return total, true
}
