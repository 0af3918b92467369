package record

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/ssargent/vitalgap/pkg/logging"
	"github.com/ssargent/vitalgap/pkg/vitals"
)

// rawDecoded mirrors every field decoded logs have been seen to carry.
// Older receivers wrote timestamps as strings and ids as floats.
type rawDecoded struct {
	DecodedAtMs    any             `json:"decoded_at_ms"`
	TimestampMs    any             `json:"timestamp_ms"`
	EpochMs        any             `json:"epoch_ms"`
	Timestamp      any             `json:"timestamp"`
	TS             any             `json:"ts"`
	DecodeOK       any             `json:"decode_ok"`
	CRCOK          any             `json:"crc_ok"`
	PacketID       any             `json:"packet_id"`
	SourcePacketID any             `json:"source_packet_id"`
	FormatVersion  any             `json:"format_version"`
	Beds           json.RawMessage `json:"beds"`
	Error          any             `json:"error"`
	SourceImage    any             `json:"source_image"`
	ImagePath      any             `json:"image_path"`
}

// ParseDecoded parses one decoded log line and resolves its capture time.
func ParseDecoded(data []byte) (DecodedRecord, error) {
	var raw rawDecoded
	if err := json.Unmarshal(data, &raw); err != nil {
		return DecodedRecord{}, err
	}

	rec := DecodedRecord{
		DecodeOK:    truthy(raw.DecodeOK),
		CRCOK:       truthy(raw.CRCOK),
		Timestamp:   stringOf(raw.TS),
		Error:       stringOf(raw.Error),
		SourceImage: stringOf(raw.SourceImage),
	}
	if rec.SourceImage == "" {
		rec.SourceImage = stringOf(raw.ImagePath)
	}
	if ms, ok := normalizeEpochMs(raw.DecodedAtMs); ok {
		rec.DecodedAtMs = ms
	}
	if ms, ok := normalizeEpochMs(raw.EpochMs); ok {
		rec.EpochMs = &ms
	}
	rec.PacketID = normalizePacketID(raw.SourcePacketID)
	if rec.PacketID == nil {
		rec.PacketID = normalizePacketID(raw.PacketID)
	}
	if v, ok := raw.FormatVersion.(float64); ok && v >= 0 && v <= 255 {
		rec.FormatVersion = uint8(v)
	}

	if len(raw.Beds) > 0 && raw.Beds[0] == '{' {
		var beds vitals.BedsPayload
		if err := json.Unmarshal(raw.Beds, &beds); err == nil {
			rec.Beds = beds
		}
	}

	rec.CaptureMs, rec.TimeSource = resolveCaptureTime(&raw)
	return rec, nil
}

// resolveCaptureTime picks the first usable capture time:
// decoded_at_ms, timestamp_ms, epoch_ms, timestamp text, then the
// YYYYMMDD_HHMMSS_mmm stamp in the capture file name.
func resolveCaptureTime(raw *rawDecoded) (*int64, TimeSource) {
	candidates := []struct {
		v      any
		source TimeSource
	}{
		{raw.DecodedAtMs, TimeDecodedAt},
		{raw.TimestampMs, TimeTimestampMs},
		{raw.EpochMs, TimeEpochMs},
	}
	for _, c := range candidates {
		if ms, ok := normalizeEpochMs(c.v); ok {
			return &ms, c.source
		}
	}

	if text, ok := raw.Timestamp.(string); ok {
		if t, ok := ParseTimestampText(text); ok {
			ms := t.UnixMilli()
			return &ms, TimeText
		}
	}

	for _, name := range []any{raw.SourceImage, raw.ImagePath} {
		if t, ok := FilenameTime(stringOf(name)); ok {
			ms := t.UnixMilli()
			return &ms, TimeFilename
		}
	}

	return nil, TimeNone
}

// LoadDecoded reads a decoded log. When last > 0 only the last N records are
// returned, oldest first.
func LoadDecoded(path string, last int, logger *zap.Logger) ([]DecodedRecord, error) {
	logger = logging.OrNop(logger)

	var (
		out  []DecodedRecord
		next int
	)
	err := scan(path, logger, func(line Line) error {
		rec, err := ParseDecoded(line.Data)
		if err != nil {
			return err
		}
		rec.Line = line.Number

		if last <= 0 || len(out) < last {
			out = append(out, rec)
			return nil
		}
		out[next] = rec
		next = (next + 1) % last
		return nil
	})
	if err != nil {
		return nil, err
	}

	if next > 0 {
		rotated := make([]DecodedRecord, 0, len(out))
		rotated = append(rotated, out[next:]...)
		out = append(rotated, out[:next]...)
	}

	sources := map[TimeSource]int{}
	for _, rec := range out {
		sources[rec.TimeSource]++
	}
	logger.Debug("loaded decoded records",
		zap.String("path", path),
		zap.Int("records", len(out)),
		zap.Any("time_sources", sources))

	return out, nil
}
