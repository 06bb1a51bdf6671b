package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AddUsage is shown when add gets too few arguments.
const AddUsage = "Usage: add <type> <source> <data_json>"

var (
	// ErrUsage is returned by Add for missing arguments.
	ErrUsage = errors.New(AddUsage)
	// ErrInvalidData is returned by Add when the data argument is not JSON; no request is made.
	ErrInvalidData = errors.New("invalid JSON for data, please provide valid JSON")
)

const stampLayout = "2006-01-02 15:04:05"

// Status renders the backend health.
func (c *Client) Status(ctx context.Context) (string, error) {
	h, err := c.Health(ctx)
	if err != nil {
		return "", fmt.Errorf("checking backend status: %w", err)
	}
	return fmt.Sprintf("Backend Status: %s - Database: %s", h.Status, h.Database), nil
}

// Latest renders the dashboard as sections of bracketed-timestamp lines.
func (c *Client) Latest(ctx context.Context) (string, error) {
	d, err := c.Dashboard(ctx)
	if err != nil {
		return "", fmt.Errorf("fetching latest data: %w", err)
	}
	var b strings.Builder
	b.WriteString("Latest PulseBoard Data\n\n")
	if len(d.Signals) > 0 {
		b.WriteString("Signals:\n")
		for _, s := range d.Signals {
			fmt.Fprintf(&b, "- [%s] %s from %s\n", stamp(s.Timestamp), s.Type, s.Source)
		}
		b.WriteString("\n")
	}
	if len(d.Events) > 0 {
		b.WriteString("Events:\n")
		for _, e := range d.Events {
			desc := "N/A"
			if e.Description != nil {
				desc = *e.Description
			}
			fmt.Fprintf(&b, "- [%s] %s (%s) from %s\n", stamp(e.Timestamp), e.Name, desc, e.Source)
		}
		b.WriteString("\n")
	}
	if len(d.Emails) > 0 {
		b.WriteString("Emails:\n")
		for _, m := range d.Emails {
			fmt.Fprintf(&b, "- [%s] From: %s, Subject: %s\n", stamp(m.Timestamp), m.Sender, m.Subject)
		}
		b.WriteString("\n")
	}
	if len(d.Signals)+len(d.Events)+len(d.Emails) == 0 {
		b.WriteString("No data available yet.")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Add posts a signal. args are type, source and the data JSON, which may be split across
// several arguments and is joined with spaces. The signal is stamped with the current UTC time.
func (c *Client) Add(ctx context.Context, args []string) (string, error) {
	if len(args) < 3 {
		return "", ErrUsage
	}
	data := strings.Join(args[2:], " ")
	if !json.Valid([]byte(data)) {
		return "", ErrInvalidData
	}
	created, err := c.CreateSignal(ctx, SignalInput{
		Timestamp: c.now().UTC(),
		Type:      args[0],
		Source:    args[1],
		Data:      json.RawMessage(data),
	})
	if err != nil {
		return "", fmt.Errorf("adding signal: %w", err)
	}
	return "Signal added successfully: " + created.Message, nil
}

func stamp(t time.Time) string {
	return t.UTC().Format(stampLayout)
}
