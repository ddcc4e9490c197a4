// Package mlog is the ambient logging convention shared by every core
// package: a plain logf function value threaded through constructors
// (never an interface), exactly as imapdb.NewBackend, boxmgmt.New, and
// db.Janitor take Logf, plus a Log struct producing a structured
// one-line record, mirroring spilldb/db.Log.
package mlog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Func is the logging convention used throughout the core: a plain
// function value, so callers can bind a prefix by wrapping it
// (logUserPrefix+format), the way imapdb.session.logf does.
type Func func(format string, v ...interface{})

// Discard is a Func that drops every message, the default when a
// caller passes nil.
func Discard(string, ...interface{}) {}

// Prefixed returns f wrapped so every message is prefixed with p.
func Prefixed(f Func, p string) Func {
	if f == nil {
		f = Discard
	}
	return func(format string, v ...interface{}) {
		f(p+format, v...)
	}
}

// OrDiscard returns f, or Discard if f is nil.
func OrDiscard(f Func) Func {
	if f == nil {
		return Discard
	}
	return f
}

// Log is a single structured log record, mirroring spilldb/db.Log.
type Log struct {
	Where    string
	What     string
	When     time.Time
	Duration time.Duration
	Err      error
	Data     map[string]interface{}
}

// String renders the record as a one-line JSON-ish record, matching
// the teacher's db.Log.String format exactly.
func (l Log) String() string {
	buf := new(strings.Builder)
	fmt.Fprintf(buf, `{"where": %q, "what": %q, `, l.Where, l.What)

	buf.WriteString(`"when": "`)
	buf.Write(l.When.AppendFormat(make([]byte, 0, 64), time.RFC3339Nano))
	buf.WriteString(`"`)

	fmt.Fprintf(buf, `, "duration": "%s"`, l.Duration)

	if l.Err != nil {
		fmt.Fprintf(buf, `, "err": %q`, l.Err.Error())
	}
	if len(l.Data) > 0 {
		b, err := json.Marshal(l.Data)
		if err != nil {
			fmt.Fprintf(buf, `, "data_marshal_err": %q`, err.Error())
		} else {
			fmt.Fprintf(buf, `, "data": %s`, b)
		}
	}
	buf.WriteByte('}')
	return buf.String()
}
