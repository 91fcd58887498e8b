package chart

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Unconfirmed marks chart fields the consultation did not cover.
const Unconfirmed = "미확인"

var (
	patientNameRe   = regexp.MustCompile(`환자명:\s*(.*)`)
	bracketedRe     = regexp.MustCompile(`^\[(.*)\]$`)
	unsafeFileChars = regexp.MustCompile(`[\\?%*:"|<>./]`)

	patientLineRe   = regexp.MustCompile(`(?m)^([ \t]*(?:✅[ \t]*)?환자명:)[ \t]*(.*?)[ \t]*$`)
	complaintLineRe = regexp.MustCompile(`(?m)^([ \t]*-[ \t]*주호소:)[ \t]*$`)
)

// PatientName extracts the patient name from a chart, without surrounding
// brackets. It returns Unconfirmed when the chart names nobody.
func PatientName(chart string) string {
	m := patientNameRe.FindStringSubmatch(chart)
	if m == nil {
		return Unconfirmed
	}
	name := strings.TrimSpace(bracketedRe.ReplaceAllString(strings.TrimSpace(m[1]), "$1"))
	if name == "" {
		return Unconfirmed
	}
	return name
}

// Filename prefixes of the exported and archived text files.
const (
	ChartFilePrefix      = "SOAP차트"
	TranscriptFilePrefix = "전사내용"
	AnalysisFilePrefix   = "심층분석"
)

// Filename builds {prefix}_{YYYYMMDD_HHmm}_{patient}.txt with path-unsafe
// characters in the patient name replaced by underscores.
func Filename(prefix string, at time.Time, chart string) string {
	name := unsafeFileChars.ReplaceAllString(PatientName(chart), "_")
	return fmt.Sprintf("%s_%s_%s.txt", prefix, at.Format("20060102_1504"), name)
}

// Normalize fills an empty patient name or chief complaint with Unconfirmed
// and strips brackets the model sometimes leaves around the name.
func Normalize(chart string) string {
	chart = patientLineRe.ReplaceAllStringFunc(chart, func(line string) string {
		m := patientLineRe.FindStringSubmatch(line)
		name := strings.TrimSpace(bracketedRe.ReplaceAllString(m[2], "$1"))
		if name == "" {
			name = Unconfirmed
		}
		return m[1] + " " + name
	})
	return complaintLineRe.ReplaceAllString(chart, "$1 "+Unconfirmed)
}

// FormatConsultationTime prints t the way Korean locale numeric dates read,
// for example "2025. 1. 5. 오후 3:04:05".
func FormatConsultationTime(t time.Time, loc *time.Location) string {
	t = t.In(loc)
	meridiem := "오전"
	if t.Hour() >= 12 {
		meridiem = "오후"
	}
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	return fmt.Sprintf("%d. %d. %d. %s %d:%02d:%02d",
		t.Year(), int(t.Month()), t.Day(), meridiem, hour, t.Minute(), t.Second())
}
