package format

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Display patterns use the remote service's token alphabet, not Go layouts.
// Literal text between tokens (including digits) passes through untouched,
// which a time.Format layout string could not guarantee.
var patternTokens = []string{"yyyy", "MM", "dd", "HH", "mm", "ss"}

// maxEpochSeconds is 2100-01-01 UTC. Values outside [0, max] after unit
// normalization are rejected rather than rendered as nonsense dates.
const maxEpochSeconds = 4102444800

type segment struct {
	text  string
	token bool
}

// parsePattern splits a display pattern into literal and token segments.
// Tokens are matched longest-first so "yyyy" never degrades into "yy".
func parsePattern(pattern string) []segment {
	var segs []segment
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			segs = append(segs, segment{text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(pattern); {
		matched := ""
		for _, tok := range patternTokens {
			if strings.HasPrefix(pattern[i:], tok) {
				matched = tok
				break
			}
		}
		if matched != "" {
			flush()
			segs = append(segs, segment{text: matched, token: true})
			i += len(matched)
			continue
		}
		// Multi-byte literals (CJK date words) advance rune-wise.
		_, size := utf8.DecodeRuneInString(pattern[i:])
		lit.WriteString(pattern[i : i+size])
		i += size
	}
	flush()
	return segs
}

func render(segs []segment, t time.Time) string {
	var b strings.Builder
	for _, seg := range segs {
		if !seg.token {
			b.WriteString(seg.text)
			continue
		}
		switch seg.text {
		case "yyyy":
			fmt.Fprintf(&b, "%04d", t.Year())
		case "MM":
			fmt.Fprintf(&b, "%02d", int(t.Month()))
		case "dd":
			fmt.Fprintf(&b, "%02d", t.Day())
		case "HH":
			fmt.Fprintf(&b, "%02d", t.Hour())
		case "mm":
			fmt.Fprintf(&b, "%02d", t.Minute())
		case "ss":
			fmt.Fprintf(&b, "%02d", t.Second())
		}
	}
	return b.String()
}

// normalizeMillis brings a raw epoch value of unknown unit down to
// milliseconds. The remote stores milliseconds but some writers deliver
// microseconds and manual rows sometimes carry plain seconds; magnitude is
// the only reliable discriminator.
func normalizeMillis(raw int64) int64 {
	switch {
	case raw >= 1e14 || raw <= -1e14:
		return raw / 1000
	case raw >= 1e11 || raw <= -1e11:
		return raw
	default:
		return raw * 1000
	}
}

// FormatTimestamp renders a raw epoch value using a display pattern in the
// given zone. Non-numeric or out-of-range values return an error so the
// caller can fall back to serving the raw value.
func FormatTimestamp(raw any, pattern string, loc *time.Location) (string, error) {
	var value int64
	switch v := raw.(type) {
	case int64:
		value = v
	case int:
		value = int64(v)
	case float64:
		value = int64(v)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return "", fmt.Errorf("timestamp %q is not numeric", v)
		}
		value = parsed
	default:
		return "", fmt.Errorf("timestamp has unsupported type %T", raw)
	}

	ms := normalizeMillis(value)
	if sec := ms / 1000; sec < 0 || sec > maxEpochSeconds {
		return "", fmt.Errorf("timestamp %d out of range", value)
	}

	t := time.UnixMilli(ms).In(loc)
	return render(parsePattern(pattern), t), nil
}
