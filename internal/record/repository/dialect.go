package repository

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"pulseboard/internal/db"
)

// sqliteTimeLayout is fixed width so that text ordering equals chronological ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

type dialect struct {
	name        db.Dialect
	placeholder func(n int) string
	timeArg     func(t time.Time) any
}

func dialectFor(d db.Dialect) (dialect, error) {
	switch d {
	case db.Postgres:
		return dialect{
			name:        d,
			placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
			timeArg:     func(t time.Time) any { return t },
		}, nil
	case db.SQLite:
		return dialect{
			name:        d,
			placeholder: func(int) string { return "?" },
			timeArg:     func(t time.Time) any { return t.Format(sqliteTimeLayout) },
		}, nil
	}
	return dialect{}, fmt.Errorf("repository: unsupported dialect %q", d)
}

func (d dialect) placeholders(from, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = d.placeholder(from + i)
	}
	return strings.Join(ph, ", ")
}

// timeValue scans a timestamp column whether the driver yields time.Time or RFC 3339 text.
type timeValue struct{ t time.Time }

func (tv *timeValue) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		tv.t = v.UTC()
		return nil
	case string:
		return tv.parse(v)
	case []byte:
		return tv.parse(string(v))
	case nil:
		return fmt.Errorf("timestamp is NULL")
	}
	return fmt.Errorf("timestamp: unsupported type %T", src)
}

func (tv *timeValue) parse(s string) error {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	tv.t = t.UTC()
	return nil
}
