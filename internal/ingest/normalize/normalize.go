// Package normalize maps raw scraped items onto records, filling documented defaults.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"pulseboard/internal/record/domain"
)

// Defaults applied to emails that lack the field.
const (
	DefaultSender  = "Unknown Sender"
	DefaultSubject = "No Subject"
)

// ScrapedDateKey is the data key that records the day an event was seen when no exact time is known.
const ScrapedDateKey = "scraped_date"

var commonFields = []string{"timestamp", "source", "data"}

var kindFields = map[domain.Kind][]string{
	domain.KindSignal: {"type"},
	domain.KindEvent:  {"name", "title", "description", "date", "time"},
	domain.KindEmail:  {"sender", "subject", "body_snippet", "is_read"},
}

// Normalizer turns raw items into records. The zero value uses UTC and the wall clock.
type Normalizer struct {
	// Location is the adapter's local context for date and time fields without a zone.
	Location *time.Location
	// Now returns the capture time.
	Now func() time.Time
}

// New returns a Normalizer for loc.
func New(loc *time.Location) *Normalizer {
	return &Normalizer{Location: loc, Now: time.Now}
}

// Normalize maps item onto a record of kind. sourceName is used when the item carries no source.
// Returns a *domain.NormalizationError when a required field is missing or a field is malformed,
// including a timestamp outside years 1..9999.
func (n *Normalizer) Normalize(kind domain.Kind, sourceName string, item map[string]any) (domain.Record, error) {
	rec, err := n.build(kind, sourceName, item)
	if err != nil {
		return nil, err
	}
	if err := domain.CheckTimestamp(rec.Common().Timestamp); err != nil {
		var ve *domain.ValidationError
		errors.As(err, &ve)
		return nil, &domain.NormalizationError{Kind: kind, Field: "timestamp", Reason: ve.Reason}
	}
	return rec, nil
}

func (n *Normalizer) build(kind domain.Kind, sourceName string, item map[string]any) (domain.Record, error) {
	fields, ok := kindFields[kind]
	if !ok {
		return nil, &domain.NormalizationError{Kind: kind, Field: "kind", Reason: "is not a record kind"}
	}
	now := n.now()

	var base domain.Base
	base.Source = text(item["source"])
	if base.Source == "" {
		base.Source = strings.TrimSpace(sourceName)
	}
	if base.Source == "" {
		return nil, &domain.NormalizationError{Kind: kind, Field: "source", Reason: "is missing"}
	}

	data, err := n.data(kind, item, fields)
	if err != nil {
		return nil, err
	}
	base.Data = data

	ts, hasTS, err := n.timestamp(item["timestamp"])
	if err != nil {
		return nil, &domain.NormalizationError{Kind: kind, Field: "timestamp", Reason: err.Error()}
	}
	if !hasTS {
		ts = now
	}
	base.Timestamp = ts

	switch kind {
	case domain.KindSignal:
		sig := &domain.Signal{Base: base, Type: text(item["type"])}
		if sig.Type == "" {
			return nil, &domain.NormalizationError{Kind: kind, Field: "type", Reason: "is missing"}
		}
		return sig, nil

	case domain.KindEvent:
		ev := &domain.Event{Base: base, Name: text(item["name"]), Description: optionalText(item["description"])}
		if ev.Name == "" {
			ev.Name = text(item["title"])
		}
		if ev.Name == "" {
			return nil, &domain.NormalizationError{Kind: kind, Field: "name", Reason: "is missing"}
		}
		if !hasTS {
			if err := n.eventTime(ev, text(item["date"]), text(item["time"]), now); err != nil {
				return nil, err
			}
		}
		return ev, nil

	default:
		mail := &domain.Email{
			Base:        base,
			Sender:      text(item["sender"]),
			Subject:     text(item["subject"]),
			BodySnippet: optionalText(item["body_snippet"]),
		}
		if mail.Sender == "" {
			mail.Sender = DefaultSender
		}
		if mail.Subject == "" {
			mail.Subject = DefaultSubject
		}
		read, err := boolish(item["is_read"])
		if err != nil {
			return nil, &domain.NormalizationError{Kind: kind, Field: "is_read", Reason: err.Error()}
		}
		mail.IsRead = read
		return mail, nil
	}
}

// eventTime places an event from its scraped date and time.
// A time without a date belongs to today. A day without a time keeps the capture time and
// records the day under data.scraped_date; with neither, the day is assumed to be today.
func (n *Normalizer) eventTime(ev *domain.Event, date, clock string, now time.Time) error {
	loc := n.location()
	today := now.In(loc)

	var (
		day time.Time
		err error
	)
	if date != "" {
		day, err = time.ParseInLocation(time.DateOnly, date, loc)
		if err != nil {
			return &domain.NormalizationError{Kind: domain.KindEvent, Field: "date", Reason: fmt.Sprintf("%q is not YYYY-MM-DD", date)}
		}
	}

	if clock == "" {
		scraped := today.Format(time.DateOnly)
		if date != "" {
			scraped = day.Format(time.DateOnly)
		}
		if _, exists := ev.Data.Get(ScrapedDateKey); !exists {
			ev.Data.Set(ScrapedDateKey, domain.StringValue(scraped))
		}
		return nil
	}

	h, m, s, err := parseClock(clock)
	if err != nil {
		return &domain.NormalizationError{Kind: domain.KindEvent, Field: "time", Reason: err.Error()}
	}
	if date == "" {
		day = today
	}
	ev.Timestamp = time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, loc)
	return nil
}

// data builds the open payload: an explicit data object first, then every key that is not a record field.
func (n *Normalizer) data(kind domain.Kind, item map[string]any, fields []string) (domain.Object, error) {
	var out domain.Object
	switch d := item["data"].(type) {
	case nil:
	case domain.Object:
		for k, v := range d.All() {
			out.Set(k, v)
		}
	case map[string]any:
		o, err := domain.ObjectFromMap(d)
		if err != nil {
			return domain.Object{}, &domain.NormalizationError{Kind: kind, Field: "data", Reason: err.Error()}
		}
		out = o
	case string:
		if strings.TrimSpace(d) != "" {
			if err := json.Unmarshal([]byte(d), &out); err != nil {
				return domain.Object{}, &domain.NormalizationError{Kind: kind, Field: "data", Reason: err.Error()}
			}
		}
	default:
		return domain.Object{}, &domain.NormalizationError{Kind: kind, Field: "data", Reason: fmt.Sprintf("must be an object, got %T", d)}
	}

	for _, k := range slices.Sorted(maps.Keys(item)) {
		if slices.Contains(commonFields, k) || slices.Contains(fields, k) {
			continue
		}
		v, err := domain.FromAny(item[k])
		if err != nil {
			return domain.Object{}, &domain.NormalizationError{Kind: kind, Field: k, Reason: err.Error()}
		}
		if _, exists := out.Get(k); !exists {
			out.Set(k, v)
		}
	}
	return out, nil
}

func (n *Normalizer) timestamp(v any) (time.Time, bool, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		if t.IsZero() {
			return time.Time{}, false, nil
		}
		return t, true, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false, nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateTime} {
			var (
				parsed time.Time
				err    error
			)
			if layout == time.RFC3339Nano {
				parsed, err = time.Parse(layout, s)
			} else {
				parsed, err = time.ParseInLocation(layout, s, n.location())
			}
			if err == nil {
				return parsed, true, nil
			}
		}
		return time.Time{}, false, fmt.Errorf("%q is not an RFC 3339 time", s)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return unixInt(i), true, nil
		}
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%q is not a unix time", t)
		}
		return unix(f)
	case float64:
		return unix(t)
	case int:
		return unixInt(int64(t)), true, nil
	case int64:
		return unixInt(t), true, nil
	}
	return time.Time{}, false, fmt.Errorf("unsupported type %T", v)
}

func (n *Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func (n *Normalizer) location() *time.Location {
	if n.Location != nil {
		return n.Location
	}
	return time.UTC
}

// millisEpoch is the magnitude from which a unix time is read as milliseconds. As seconds it
// would fall after year 33000; as milliseconds it is September 2001.
const millisEpoch = 1e12

// maxUnixSeconds keeps float conversion clear of int64 overflow; CheckTimestamp does the exact bound.
const maxUnixSeconds = 1e15

func unix(f float64) (time.Time, bool, error) {
	if math.Abs(f) >= millisEpoch {
		f /= 1000
	}
	if math.IsNaN(f) || math.Abs(f) >= maxUnixSeconds {
		return time.Time{}, false, fmt.Errorf("unix time %g is out of range", f)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), true, nil
}

func unixInt(i int64) time.Time {
	if i >= millisEpoch || i <= -millisEpoch {
		return time.UnixMilli(i)
	}
	return time.Unix(i, 0)
}

// text returns v as a trimmed string. Non-string scalars are formatted.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func optionalText(v any) *string {
	s := text(v)
	if s == "" {
		return nil
	}
	return &s
}

func boolish(v any) (bool, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "false", "0", "no", "n", "unread":
			return false, nil
		case "true", "1", "yes", "y", "read":
			return true, nil
		}
		return false, fmt.Errorf("%q is not a boolean", t)
	case json.Number:
		return t.String() != "0", nil
	case int:
		return t != 0, nil
	case float64:
		return t != 0, nil
	}
	return false, fmt.Errorf("unsupported type %T", v)
}

var clockLayouts = []string{"15:04", "15:04:05", "3:04pm", "3:04:05pm", "3pm"}

// parseClock accepts 24-hour and am/pm times such as 09:30, 9:30am and 3 PM.
func parseClock(s string) (h, m, sec int, err error) {
	compact := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	compact = strings.ReplaceAll(compact, ".", "")
	for _, layout := range clockLayouts {
		if t, perr := time.Parse(layout, compact); perr == nil {
			return t.Hour(), t.Minute(), t.Second(), nil
		}
	}
	if n, aerr := strconv.Atoi(compact); aerr == nil && n >= 0 && n < 24 {
		return n, 0, 0, nil
	}
	return 0, 0, 0, fmt.Errorf("%q is not a time of day", s)
}
