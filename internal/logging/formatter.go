package logging

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// TimeFormat is ISO-8601 with millisecond precision; times are always UTC.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

var lineEscaper = strings.NewReplacer("\r", `\r`, "\n", `\n`)

// Formatter renders one record per line:
//
//	2024-05-01T12:00:00.000Z INFO:session-<uuid> INPUT: ls -la peer=10.0.0.1
type Formatter struct{}

// Format implements logrus.Formatter.
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	b := entry.Buffer
	if b == nil {
		b = &bytes.Buffer{}
	}

	session, _ := entry.Data[SessionField].(string)
	if session == "" {
		session = NoSession
	}

	b.WriteString(entry.Time.UTC().Format(TimeFormat))
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(entry.Level.String()))
	b.WriteByte(':')
	b.WriteString(session)
	b.WriteByte(' ')
	b.WriteString(lineEscaper.Replace(entry.Message))

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k == SessionField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(formatValue(entry.Data[k]))
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}

func formatValue(v any) string {
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case error:
		s = val.Error()
	default:
		s = fmt.Sprint(val)
	}
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
