package detectpipe

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gaia-project/gaia-processing/internal/errors"
)

// ParsedFileName is the metadata a segment filename carries by contract:
// a leading date, a trailing time, and an optional stream tag. Example:
// "2024-02-24-birdnet-RTSP_1-16:19:37.wav".
type ParsedFileName struct {
	FilePath string
	FileDate time.Time // local, combining the parsed date and time
	StreamID string    // e.g. "RTSP_1-", or "" if absent
}

// ParseFileName extracts a ParsedFileName from path per the segment
// filename grammar: the first ten characters are YYYY-MM-DD, the last
// eight before the extension are HH:MM:SS, and an optional "RTSP_<n>-"
// substring between them names the capture stream.
func ParseFileName(path string) (*ParsedFileName, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	if len(stem) < 10 {
		return nil, errors.Newf("filename too short for date: %q", stem).
			Component("detectpipe").
			Category(errors.CategoryDetectionFilter).
			Build()
	}
	dateStr := stem[:10]
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return nil, errors.New(err).
			Component("detectpipe").
			Category(errors.CategoryDetectionFilter).
			Context("filename", stem).
			Build()
	}

	if len(stem) < 8 {
		return nil, errors.Newf("filename too short for time: %q", stem).
			Component("detectpipe").
			Category(errors.CategoryDetectionFilter).
			Build()
	}
	timeStr := stem[len(stem)-8:]
	clock, err := time.Parse("15:04:05", timeStr)
	if err != nil {
		return nil, errors.New(err).
			Component("detectpipe").
			Category(errors.CategoryDetectionFilter).
			Context("filename", stem).
			Build()
	}

	fileDate := time.Date(date.Year(), date.Month(), date.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0, time.Local)

	streamID := ""
	if idx := strings.Index(stem, "RTSP_"); idx >= 0 {
		rest := stem[idx:]
		if end := strings.IndexByte(rest, '-'); end >= 0 {
			streamID = rest[:end+1]
		}
	}

	return &ParsedFileName{
		FilePath: path,
		FileDate: fileDate,
		StreamID: streamID,
	}, nil
}

// ISO8601 renders FileDate in RFC 3339 form.
func (p *ParsedFileName) ISO8601() string {
	return p.FileDate.Format(time.RFC3339)
}

// Week is the ISO-8601 week number (1..53) of FileDate.
func (p *ParsedFileName) Week() int {
	_, week := p.FileDate.ISOWeek()
	return week
}

// String renders a human-readable label for log lines.
func (p *ParsedFileName) String() string {
	return fmt.Sprintf("%s (stream=%q)", filepath.Base(p.FilePath), p.StreamID)
}
