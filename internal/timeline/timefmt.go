package timeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrTimeFormat = errors.New("timeline: time must be [MM:]SS[.mmm]")

// ParseMillis parses "[MM:]SS[.mmm]" into milliseconds. The fraction is
// decimal, so "1.5" is 1500.
func ParseMillis(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	minutes, rest, hasMinutes := strings.Cut(s, ":")
	if !hasMinutes {
		minutes, rest = "", minutes
	}
	seconds, frac, hasFrac := strings.Cut(rest, ".")

	var total uint64
	if hasMinutes {
		m, err := parseDigits(minutes)
		if err != nil {
			return 0, errors.Wrapf(ErrTimeFormat, "minutes in %q", s)
		}
		total = m * 60
	}
	sec, err := parseDigits(seconds)
	if err != nil {
		return 0, errors.Wrapf(ErrTimeFormat, "seconds in %q", s)
	}
	total = (total + sec) * 1000
	if hasFrac {
		if len(frac) == 0 || len(frac) > 3 {
			return 0, errors.Wrapf(ErrTimeFormat, "milliseconds in %q", s)
		}
		ms, err := parseDigits(frac + strings.Repeat("0", 3-len(frac)))
		if err != nil {
			return 0, errors.Wrapf(ErrTimeFormat, "milliseconds in %q", s)
		}
		total += ms
	}
	if total > math.MaxUint32 {
		return 0, errors.Wrapf(ErrTimeFormat, "%q is out of range", s)
	}
	return uint32(total), nil
}

func parseDigits(s string) (uint64, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, ErrTimeFormat
	}
	return strconv.ParseUint(s, 10, 32)
}

// FormatMillis renders ms as minutes:seconds.milliseconds with the minutes
// right aligned to three columns.
func FormatMillis(ms uint32) string {
	seconds := ms / 1000
	return fmt.Sprintf("%3d:%02d.%03d", seconds/60, seconds%60, ms%1000)
}
