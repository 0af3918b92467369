package record

import (
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var filenameTimeRE = regexp.MustCompile(`(\d{8})_(\d{6})_(\d{3})`)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// normalizeEpochMs accepts JSON numbers and numeric strings, rounding to the
// nearest millisecond.
func normalizeEpochMs(v any) (int64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt64/2 {
		return 0, false
	}
	return int64(math.Round(f)), true
}

// normalizePacketID accepts integral JSON numbers and decimal strings.
func normalizePacketID(v any) *int64 {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) || math.Abs(x) > math.MaxInt64/2 {
			return nil
		}
		id := int64(x)
		return &id
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil
		}
		return &id
	}
	return nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}

func stringOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	}
	return fmt.Sprint(v)
}

// ParseTimestampText parses ISO-8601 style text. A trailing "Z" is UTC;
// text without an offset is local time.
func ParseTimestampText(text string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, text, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FilenameTime extracts a YYYYMMDD_HHMMSS_mmm local timestamp from a capture
// file name.
func FilenameTime(name string) (time.Time, bool) {
	m := filenameTimeRE.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("20060102_150405.000", m[1]+"_"+m[2]+"."+m[3], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// scan feeds every line of path to fn. A complete line fn rejects is a
// LineError. A partial final line is skipped with a warning because the
// writer may still be appending it.
func scan(path string, logger *zap.Logger, fn func(Line) error) error {
	r, err := NewLogReader(LogReaderConfig{FilePath: path})
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		line, err := r.ReadNext()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := fn(line); err != nil {
			if line.Partial {
				logger.Warn("skipping truncated final line",
					zap.String("path", path),
					zap.Int("line", line.Number),
					zap.Error(err))
				return nil
			}
			return &LineError{Path: path, Line: line.Number, Err: err}
		}
	}
}
