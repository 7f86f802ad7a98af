package detectpipe

import (
	"math"
	"strings"
	"time"
)

// Detection is one confident, time-labeled species prediction ready for
// persistence.
type Detection struct {
	Domain      string
	Start, End  float64 // seconds into the recording
	DateTime    time.Time
	Date        string // YYYY-MM-DD
	Time        string // HH:MM:SS
	ISO8601     string
	Week        int
	Confidence  float64
	SciName     string
	ComName     string
	ComNameSafe string // ComName with apostrophes removed and spaces replaced by underscores, for filenames
}

// NewDetection builds a Detection, anchoring its timestamp to fileDate +
// start seconds and rounding confidence to four decimal places.
func NewDetection(domain string, fileDate time.Time, start, end float64, sciName, comName string, confidence float64) Detection {
	dt := fileDate.Add(time.Duration(start * float64(time.Second)))
	_, week := dt.ISOWeek()

	comNameSafe := strings.ReplaceAll(comName, "'", "")
	comNameSafe = strings.ReplaceAll(comNameSafe, " ", "_")

	return Detection{
		Domain:      domain,
		Start:       start,
		End:         end,
		DateTime:    dt,
		Date:        dt.Format("2006-01-02"),
		Time:        dt.Format("15:04:05"),
		ISO8601:     dt.Format(time.RFC3339),
		Week:        week,
		Confidence:  math.Round(confidence*10000) / 10000,
		SciName:     sciName,
		ComName:     comName,
		ComNameSafe: comNameSafe,
	}
}

// ConfidencePercent is the confidence rendered as an integer 0-100,
// used in clip filenames.
func (d Detection) ConfidencePercent() int {
	return int(math.Round(d.Confidence * 100))
}
