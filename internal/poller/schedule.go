package poller

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule yields the next activation strictly after the given time.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

// Every is a fixed delay between the end of one tick and the start of the next.
type Every time.Duration

func (e Every) Next(after time.Time) time.Time { return after.Add(time.Duration(e)) }
func (e Every) String() string                 { return "every " + time.Duration(e).String() }

type cronSchedule struct {
	expr string
	s    cron.Schedule
}

func (c cronSchedule) Next(after time.Time) time.Time { return c.s.Next(after) }
func (c cronSchedule) String() string                 { return "cron " + c.expr }

// 5 or 6 fields (optional seconds) plus descriptors like "@hourly" and "@every 10m".
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule accepts:
//   - a Go duration: "10m", "1h30m"
//   - HH:MM as an interval: "00:10" is ten minutes
//   - a cron expression: "*/10 * * * *", "@every 10m", or anything prefixed with "cron:"
//
// "interval:" or "every:" force interval parsing.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseInterval(s[len("every:"):])
	case strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@"):
		return parseCron(s)
	}

	if sch, err := parseInterval(s); err == nil {
		return sch, nil
	}
	return nil, fmt.Errorf("invalid schedule %q (use a duration like '10m', HH:MM like '00:10', or cron like '*/10 * * * *')", raw)
}

func parseCron(expr string) (Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("cron schedule required after 'cron:'")
	}
	sch, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return cronSchedule{expr: expr, s: sch}, nil
}

func parseInterval(v string) (Schedule, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, fmt.Errorf("interval required")
	}
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return nil, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("invalid interval %q (use HH:MM or a duration like '10m')", v)
		}
	}
	if d <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	return Every(d), nil
}
