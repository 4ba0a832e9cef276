package model

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron validates a 5 field cron expression or a descriptor such as
// @hourly or @every 1m.
func ParseCron(expr string) (cron.Schedule, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return nil, errors.New("empty cron expression")
	}
	return cronParser.Parse(e)
}

var (
	isoDurationRx = regexp.MustCompile(`^P(?:(?P<day>\d+)D)?(?P<t>T(?:(?P<hour>\d+)H)?(?:(?P<minute>\d+)M)?(?:(?P<second>\d+(?:[.,]\d+)?)S)?)?$`)

	ErrISOFormat = errors.New("invalid ISO8601 duration")
)

var isoUnits = map[string]time.Duration{
	"day":    24 * time.Hour,
	"hour":   time.Hour,
	"minute": time.Minute,
	"second": time.Second,
}

// ParseISODuration parses the day and time part of an ISO8601 duration,
// eg. P1D, PT30S or P1DT1H1.5S. Years, months and weeks are rejected as
// ambiguous.
func ParseISODuration(dur string) (time.Duration, error) {
	match := isoDurationRx.FindStringSubmatch(dur)
	if match == nil || dur == "P" {
		return 0, ErrISOFormat
	}

	var ret time.Duration
	for i, name := range isoDurationRx.SubexpNames() {
		part := match[i]
		if part == "" {
			continue
		}
		if name == "t" {
			// PT alone or P1DT is not a duration
			if part == "T" {
				return 0, ErrISOFormat
			}
			continue
		}
		unit, ok := isoUnits[name]
		if !ok {
			continue
		}
		d, err := scale(part, unit)
		if err != nil {
			return 0, err
		}
		ret += d
	}
	return ret, nil
}

func scale(s string, unit time.Duration) (time.Duration, error) {
	whole, fraction, _ := strings.Cut(strings.Replace(s, ",", ".", 1), ".")
	if len(fraction) > 9 {
		return 0, ErrISOFormat
	}
	n, err := strconv.Atoi(whole)
	if err != nil {
		return 0, fmt.Errorf("parsing number: %w", err)
	}
	ret := time.Duration(n) * unit
	if fraction != "" {
		f, err := strconv.Atoi(fraction)
		if err != nil {
			return 0, fmt.Errorf("parsing fraction: %w", err)
		}
		ret += time.Duration(float64(f) / math.Pow10(len(fraction)) * float64(unit))
	}
	return ret, nil
}
