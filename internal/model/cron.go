package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ParseCron validates a standard 5-field cron expression (macros like
// @hourly and @every are accepted too) and returns the interval between
// two consecutive runs.
func ParseCron(expr string) (time.Duration, error) {
	if strings.TrimSpace(expr) == "" {
		return 0, errors.New("empty cron expression")
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	first := sched.Next(now)
	second := sched.Next(first)
	return second.Sub(first), nil
}

// ParseISODuration parses an ISO-8601 duration (PnDTnHnMnS).
// Years, months and weeks are not supported as they have no fixed length.
// Each component may carry its own sign, or the whole duration may be
// negated with a leading sign - combining both is refused as ambiguous.
// Fractions are allowed on seconds only, up to nanosecond precision.
func ParseISODuration(s string) (time.Duration, error) {
	orig := s
	if s == "" {
		return 0, errors.New("empty ISO-8601 duration")
	}
	negateAll := false
	switch s[0] {
	case '-':
		negateAll = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if len(s) == 0 || s[0] != 'P' {
		return 0, fmt.Errorf("ISO-8601 duration %q must start with P", orig)
	}
	s = s[1:]

	var total time.Duration
	var components int
	var inTime bool       // past the T designator or a time unit
	var afterT int        // components after an explicit T
	var sawT bool
	var componentSign bool

	for len(s) > 0 {
		if s[0] == 'T' {
			sawT = true
			inTime = true
			s = s[1:]
			continue
		}
		neg := false
		switch s[0] {
		case '-':
			neg = true
			componentSign = true
			s = s[1:]
		case '+':
			componentSign = true
			s = s[1:]
		}
		i := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i == 0 {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
		}
		intPart := s[:i]
		s = s[i:]

		var fracPart string
		if len(s) > 0 && (s[0] == '.' || s[0] == ',') {
			s = s[1:]
			j := 0
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			if j == 0 {
				return 0, fmt.Errorf("invalid ISO-8601 duration %q", orig)
			}
			fracPart = s[:j]
			s = s[j:]
		}
		if len(s) == 0 {
			return 0, fmt.Errorf("ISO-8601 duration %q misses a unit", orig)
		}
		unit := s[0]
		s = s[1:]

		var scale time.Duration
		switch unit {
		case 'D':
			scale = 24 * time.Hour
		case 'H':
			scale = time.Hour
			inTime = true
		case 'M':
			// M designates months before the time part, which have no
			// fixed length
			if !inTime {
				return 0, fmt.Errorf("ISO-8601 duration %q: months are not supported", orig)
			}
			scale = time.Minute
		case 'S':
			scale = time.Second
			inTime = true
		default:
			return 0, fmt.Errorf("ISO-8601 duration %q has unsupported unit %q", orig, string(unit))
		}
		if fracPart != "" {
			if unit != 'S' {
				return 0, fmt.Errorf("ISO-8601 duration %q: fraction only allowed on seconds", orig)
			}
			if len(fracPart) > 9 {
				return 0, fmt.Errorf("ISO-8601 duration %q: fraction exceeds nanosecond precision", orig)
			}
		}

		var n int64
		for _, c := range intPart {
			n = n*10 + int64(c-'0')
		}
		d := time.Duration(n) * scale
		if fracPart != "" {
			var ns int64
			for _, c := range fracPart {
				ns = ns*10 + int64(c-'0')
			}
			for k := len(fracPart); k < 9; k++ {
				ns *= 10
			}
			d += time.Duration(ns)
		}
		if neg {
			d = -d
		}
		total += d
		components++
		if sawT {
			afterT++
		}
	}
	if components == 0 {
		return 0, fmt.Errorf("ISO-8601 duration %q has no components", orig)
	}
	if sawT && afterT == 0 {
		return 0, fmt.Errorf("ISO-8601 duration %q has a T designator without time components", orig)
	}
	if negateAll && componentSign {
		return 0, fmt.Errorf("ISO-8601 duration %q mixes a leading sign with component signs", orig)
	}
	if negateAll {
		total = -total
	}
	return total, nil
}
