// Package parser converts raw remote command output into structured
// findings and extracts ip/date pairs from firewall deny-list lines.
package parser

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/unblockd/unblockd/internal/model"
)

// DefaultNeedles mark lines worth scanning for a deny match.
var DefaultNeedles = []string{"csf.deny", "Temporary Blocks"}

var (
	ipv4Re = regexp.MustCompile(`\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`)
	// syslog style date: three letter month, one or two digit day with
	// one or two separating spaces, time, four digit year
	dateRe = regexp.MustCompile(`(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s{1,2}(\d{1,2}) (\d{2}:\d{2}:\d{2}) (\d{4})`)
)

// NotifyFunc receives a parse-error signal with the raw candidate lines.
// Empty extraction on a matched line means the remote log format changed
// and needs human review; the check itself still proceeds.
type NotifyFunc func(ctx context.Context, subject string, lines []string)

type Parser struct {
	notify NotifyFunc
}

func New(notify NotifyFunc) *Parser {
	return &Parser{notify: notify}
}

// Parse attempts a JSON decode first and returns the decoded payload
// as-is on success. Otherwise the output is split on newlines, each line
// trimmed and empty lines dropped, preserving original order - date/IP
// extraction depends on line adjacency in CSF style logs.
func (p *Parser) Parse(raw string) model.Finding {
	if raw == "" {
		return model.Finding{}
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		return model.Finding{JSON: decoded}
	}
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return model.Finding{Lines: lines}
}

// ExtractDenyMatch scans lines containing one of the needles and extracts
// the first IPv4 token and the first syslog style date. The extractions
// are independent: a line lacking an IP still yields a date and vice
// versa. The result is zero only when no candidate line yielded either.
//
// If candidate lines were scanned but ip or date remain empty, an
// administrator notification with the raw candidates is emitted.
func (p *Parser) ExtractDenyMatch(ctx context.Context, lines []string, needles ...string) model.DenyMatch {
	if len(needles) == 0 {
		needles = DefaultNeedles
	}
	var match model.DenyMatch
	var candidates []string
	for _, line := range lines {
		if !containsAny(line, needles) {
			continue
		}
		candidates = append(candidates, line)
		if match.IP == "" {
			match.IP = ipv4Re.FindString(line)
		}
		if match.Date == "" {
			if raw := dateRe.FindString(line); raw != "" {
				match.Date = NormalizeDate(ctx, raw)
			}
		}
	}
	if len(candidates) > 0 && (match.IP == "" || match.Date == "") {
		slog.WarnContext(ctx, "deny match extraction is incomplete",
			slog.String("ip", match.IP),
			slog.String("date", match.Date),
			slog.Int("candidates", len(candidates)),
		)
		if p.notify != nil {
			p.notify(ctx, "deny-list extraction incomplete", candidates)
		}
	}
	return match
}

// ExtractPresence reports whether any line mentions ip, yielding a match
// with the ip and the first normalizable date found. Used for services
// whose logs are evidence of a block without being a deny list, so no
// parse-error signal is raised here.
func (p *Parser) ExtractPresence(ctx context.Context, lines []string, ip string) model.DenyMatch {
	var match model.DenyMatch
	for _, line := range lines {
		if !strings.Contains(line, ip) {
			continue
		}
		match.IP = ip
		if match.Date == "" {
			if raw := dateRe.FindString(line); raw != "" {
				match.Date = NormalizeDate(ctx, raw)
			}
		}
	}
	return match
}

// NormalizeDate converts a syslog style date into the canonical
// "2006-01-02 15:04:05" form. Non-fatal: a parse failure is logged and
// an empty string returned.
func NormalizeDate(ctx context.Context, raw string) string {
	sub := dateRe.FindStringSubmatch(raw)
	if sub == nil {
		slog.ErrorContext(ctx, "cannot normalize date", slog.String("raw", raw))
		return ""
	}
	// collapse the single/double space day padding before parsing
	cleaned := sub[1] + " " + sub[2] + " " + sub[3] + " " + sub[4]
	ts, err := time.Parse("Jan 2 15:04:05 2006", cleaned)
	if err != nil {
		slog.ErrorContext(ctx, "cannot normalize date",
			slog.String("raw", raw), slog.String("error", err.Error()))
		return ""
	}
	return ts.Format("2006-01-02 15:04:05")
}

func containsAny(line string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(line, n) {
			return true
		}
	}
	return false
}
