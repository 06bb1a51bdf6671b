package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"pulseboard/internal/record/domain"
)

type fakeLoader struct {
	page  *Page
	err   error
	calls int
}

func (f *fakeLoader) Load(ctx context.Context, target string) (*Page, error) {
	f.calls++
	return f.page, f.err
}

type put struct {
	key, contentType string
	data             []byte
}

type recordingSink struct {
	mu   sync.Mutex
	puts []put
	err  error
}

func (r *recordingSink) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.puts = append(r.puts, put{key, contentType, data})
	return "mem://" + key, nil
}

var fixedNow = time.Date(2024, 7, 15, 23, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func collect(t *testing.T, s Source) ([]RawItem, []error) {
	t.Helper()
	seq, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	var (
		items []RawItem
		errs  []error
	)
	for item, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, item)
	}
	return items, errs
}

func TestDOMSource_Gmail(t *testing.T) {
	s, err := NewDOMSource("browser_automation_gmail", "testdata/gmail.html", FileLoader{}, Gmail(), WithClock(clock))
	if err != nil {
		t.Fatalf("NewDOMSource: %v", err)
	}
	if s.Kind() != domain.KindEmail {
		t.Errorf("Kind() = %q, want email", s.Kind())
	}
	items, errs := collect(t, s)
	if len(errs) != 0 {
		t.Fatalf("item errors: %v", errs)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}

	first := items[0]
	if first["sender"] != "Carol Diaz" {
		t.Errorf("sender = %v, want Carol Diaz", first["sender"])
	}
	if first["subject"] != "Quarterly report" {
		t.Errorf("subject = %v, want Quarterly report", first["subject"])
	}
	if first["body_snippet"] != "- numbers attached" {
		t.Errorf("body_snippet = %v", first["body_snippet"])
	}
	if first["is_read"] != false {
		t.Errorf("is_read = %v, want false for a zE row", first["is_read"])
	}

	second := items[1]
	if second["sender"] != "bob@example.com" {
		t.Errorf("sender = %v, want the email attribute when the element has no text", second["sender"])
	}
	if second["subject"] != "Lunch?" {
		t.Errorf("subject = %v, want Lunch?", second["subject"])
	}
	if _, ok := second["body_snippet"]; ok {
		t.Error("body_snippet set for a row without snippet")
	}
	if second["is_read"] != true {
		t.Errorf("is_read = %v, want true", second["is_read"])
	}

	third := items[2]
	if _, ok := third["sender"]; ok {
		t.Error("sender set for an empty row; the normalizer owns the default")
	}
	if _, ok := third["subject"]; ok {
		t.Error("subject set for an empty row")
	}
}

func TestDOMSource_GmailLimit(t *testing.T) {
	var b strings.Builder
	b.WriteString("<table><tbody>")
	for i := range 12 {
		fmt.Fprintf(&b, `<tr class="zA"><td><span class="yP">sender %d</span></td></tr>`, i)
	}
	b.WriteString("</tbody></table>")
	loader := &fakeLoader{page: &Page{Body: []byte(b.String())}}

	s, err := NewDOMSource("gmail", "inbox", loader, Gmail())
	if err != nil {
		t.Fatalf("NewDOMSource: %v", err)
	}
	items, _ := collect(t, s)
	if len(items) != 10 {
		t.Fatalf("got %d items, want 10", len(items))
	}
	if items[9]["sender"] != "sender 9" {
		t.Errorf("last sender = %v, want document order", items[9]["sender"])
	}
}

func TestDOMSource_Calendar(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	s, err := NewDOMSource("browser_automation_calendar", "file://testdata/calendar.html", FileLoader{}, Calendar(),
		WithClock(clock), WithLocation(loc))
	if err != nil {
		t.Fatalf("NewDOMSource: %v", err)
	}
	items, errs := collect(t, s)
	if len(errs) != 0 {
		t.Fatalf("item errors: %v", errs)
	}
	want := []string{"Standup", "Design review", "Untitled Event"}
	if len(items) != len(want) {
		t.Fatalf("got %d items, want %d", len(items), len(want))
	}
	for i, name := range want {
		if items[i]["name"] != name {
			t.Errorf("items[%d].name = %v, want %q", i, items[i]["name"], name)
		}
		// 23:30 UTC is already the next day at UTC+2.
		if items[i]["date"] != "2024-07-16" {
			t.Errorf("items[%d].date = %v, want 2024-07-16", i, items[i]["date"])
		}
	}
}

func TestDOMSource_SingleUse(t *testing.T) {
	s, err := NewDOMSource("cal", "testdata/calendar.html", FileLoader{}, Calendar())
	if err != nil {
		t.Fatalf("NewDOMSource: %v", err)
	}
	seq, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	n := 0
	for range seq {
		n++
	}
	if n != 3 {
		t.Fatalf("first range yielded %d, want 3", n)
	}
	for range seq {
		t.Fatal("second range yielded an item")
	}
}

func TestDOMSource_RequiredFieldFailsOnlyThatItem(t *testing.T) {
	p := Profile{
		Kind: domain.KindSignal,
		Rows: "li",
		Fields: map[string]Field{
			"type": {Selector: ".t", Required: true},
			"via":  {Const: "list"},
		},
	}
	loader := &fakeLoader{page: &Page{Body: []byte(`<ul><li><b class="t">a</b></li><li>none</li><li><b class="t">c</b></li></ul>`)}}
	s, err := NewDOMSource("list", "x", loader, p)
	if err != nil {
		t.Fatalf("NewDOMSource: %v", err)
	}
	items, errs := collect(t, s)
	if len(items) != 2 || len(errs) != 1 {
		t.Fatalf("items=%d errs=%d, want 2 and 1", len(items), len(errs))
	}
	var ie *ItemError
	if !errors.As(errs[0], &ie) {
		t.Fatalf("error %T is not *ItemError", errs[0])
	}
	if ie.Index != 1 || ie.Source != "list" {
		t.Errorf("ItemError = %+v, want index 1 of list", ie)
	}
	if items[1]["type"] != "c" || items[1]["via"] != "list" {
		t.Errorf("items[1] = %v", items[1])
	}
}

func TestDOMSource_StopsWhenConsumerBreaks(t *testing.T) {
	s, err := NewDOMSource("cal", "testdata/calendar.html", FileLoader{}, Calendar())
	if err != nil {
		t.Fatalf("NewDOMSource: %v", err)
	}
	seq, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	n := 0
	for range seq {
		n++
		break
	}
	if n != 1 {
		t.Errorf("n = %d, want 1", n)
	}
}

func TestDOMSource_CanceledContextStopsIteration(t *testing.T) {
	s, err := NewDOMSource("cal", "testdata/calendar.html", FileLoader{}, Calendar())
	if err != nil {
		t.Fatalf("NewDOMSource: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seq, err := s.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	n := 0
	for range seq {
		n++
		cancel()
	}
	if n != 1 {
		t.Errorf("n = %d, want 1 after cancel", n)
	}
}

func TestDOMSource_UnavailableSavesScreenshot(t *testing.T) {
	sink := &recordingSink{}
	loader := &fakeLoader{page: &Page{Screenshot: []byte("PNG")}, err: errors.New("net::ERR_NAME_NOT_RESOLVED")}
	s, err := NewDOMSource("browser_automation_gmail", "https://mail.google.com/", loader, Gmail(),
		WithArtifacts(sink), WithClock(clock))
	if err != nil {
		t.Fatalf("NewDOMSource: %v", err)
	}
	seq, err := s.Fetch(context.Background())
	if seq != nil {
		t.Error("Fetch returned a sequence on failure")
	}
	var ue *UnavailableError
	if !errors.As(err, &ue) || ue.Source != "browser_automation_gmail" {
		t.Fatalf("err = %v, want *UnavailableError for the source", err)
	}
	if len(sink.puts) != 1 {
		t.Fatalf("saved %d artifacts, want 1", len(sink.puts))
	}
	if got, want := sink.puts[0].key, "browser_automation_gmail/20240715T233000Z-error.png"; got != want {
		t.Errorf("key = %q, want %q", got, want)
	}
}

func TestDOMSource_UnavailableDumpsHTMLWithoutScreenshot(t *testing.T) {
	sink := &recordingSink{}
	loader := &fakeLoader{page: &Page{Body: []byte("<h1>502</h1>")}, err: errors.New("status 502")}
	s, err := NewDOMSource("feed", "https://example.com", loader, Calendar(), WithArtifacts(sink), WithClock(clock))
	if err != nil {
		t.Fatalf("NewDOMSource: %v", err)
	}
	if _, err := s.Fetch(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(sink.puts) != 1 || !strings.HasSuffix(sink.puts[0].key, "-error.html") {
		t.Fatalf("puts = %+v, want one html dump", sink.puts)
	}
	if !strings.HasPrefix(sink.puts[0].contentType, "text/html") {
		t.Errorf("contentType = %q", sink.puts[0].contentType)
	}
}

func TestDOMSource_SavesSuccessScreenshot(t *testing.T) {
	sink := &recordingSink{}
	loader := &fakeLoader{page: &Page{Body: []byte(`<div class="g3dbUd"><span>x</span></div>`), Screenshot: []byte("PNG")}}
	s, err := NewDOMSource("browser_automation_calendar", "https://calendar.google.com/", loader, Calendar(),
		WithArtifacts(sink), WithClock(clock))
	if err != nil {
		t.Fatalf("NewDOMSource: %v", err)
	}
	items, _ := collect(t, s)
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if len(sink.puts) != 1 || sink.puts[0].key != "browser_automation_calendar/20240715T233000Z-today.png" {
		t.Fatalf("puts = %+v", sink.puts)
	}
}

func TestDOMSource_ArtifactFailureIsNotFatal(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	loader := &fakeLoader{page: &Page{Body: []byte(`<div class="g3dbUd">x</div>`), Screenshot: []byte("PNG")}}
	s, err := NewDOMSource("cal", "x", loader, Calendar(), WithArtifacts(sink))
	if err != nil {
		t.Fatalf("NewDOMSource: %v", err)
	}
	items, _ := collect(t, s)
	if len(items) != 1 {
		t.Errorf("got %d items, want 1", len(items))
	}
}

func TestNewDOMSource_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		srcName string
		loader  Loader
		profile Profile
	}{
		{"empty name", "", FileLoader{}, Gmail()},
		{"nil loader", "x", nil, Gmail()},
		{"bad kind", "x", FileLoader{}, Profile{Kind: "memo", Rows: "li"}},
		{"no rows", "x", FileLoader{}, Profile{Kind: domain.KindSignal}},
		{"bad rows", "x", FileLoader{}, Profile{Kind: domain.KindSignal, Rows: "ul > li"}},
		{"negative limit", "x", FileLoader{}, Profile{Kind: domain.KindSignal, Rows: "li", Limit: -1}},
		{"bad field selector", "x", FileLoader{}, Profile{Kind: domain.KindSignal, Rows: "li", Fields: map[string]Field{"type": {Selector: "a:hover"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDOMSource(tt.srcName, "target", tt.loader, tt.profile); err == nil {
				t.Error("expected error")
			}
		})
	}
}
