package source

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
)

const selectorDoc = `<html><body>
<div id="main" class="a b">
  <p class="x">one</p>
  <section><p class="x y" data-k="v">two</p></section>
</div>
<p class="x">three</p>
</body></html>`

func parse(t *testing.T, s string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		t.Fatalf("html.Parse: %v", err)
	}
	return doc
}

func texts(nodes []*html.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = innerText(n)
	}
	return out
}

func TestSelector_MatchAll(t *testing.T) {
	doc := parse(t, selectorDoc)
	tests := []struct {
		sel  string
		want []string
	}{
		{"p.x", []string{"one", "two", "three"}},
		{"p", []string{"one", "two", "three"}},
		{"#main p", []string{"one", "two"}},
		{"div section p.y", []string{"two"}},
		{"[data-k=v]", []string{"two"}},
		{"p[data-k='v']", []string{"two"}},
		{"[data-k]", []string{"two"}},
		{"[data-k=w]", nil},
		{".y, #main", []string{"one two", "two"}},
		{"section .x, body > p", nil},
		{"div.a.b", []string{"one two"}},
		{"div.a.c", nil},
		{"*.y", []string{"two"}},
	}
	for _, tt := range tests {
		t.Run(tt.sel, func(t *testing.T) {
			s, err := CompileSelector(tt.sel)
			if tt.want == nil && err != nil {
				return
			}
			if err != nil {
				t.Fatalf("CompileSelector(%q): %v", tt.sel, err)
			}
			got := texts(s.MatchAll(doc))
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("MatchAll(%q) = %q, want %q", tt.sel, got, tt.want)
			}
		})
	}
}

func TestSelector_Invalid(t *testing.T) {
	for _, sel := range []string{"", "a,", "section > p", "p:first-child", "a + b", "p[x", "p.", "#", "[=v]"} {
		if _, err := CompileSelector(sel); err == nil {
			t.Errorf("CompileSelector(%q) succeeded, want error", sel)
		}
	}
}

func mustSelector(t *testing.T, sel string) *Selector {
	t.Helper()
	s, err := CompileSelector(sel)
	if err != nil {
		t.Fatalf("CompileSelector(%q): %v", sel, err)
	}
	return s
}

func TestSelector_MatchFirstIsScoped(t *testing.T) {
	doc := parse(t, selectorDoc)
	section := mustSelector(t, "section").MatchFirst(doc)
	if section == nil {
		t.Fatal("section not found")
	}
	// "div p" must not match through the scope boundary: the div is outside the section.
	if n := mustSelector(t, "div p").MatchFirst(section); n != nil {
		t.Errorf("MatchFirst escaped scope: %q", innerText(n))
	}
	if n := mustSelector(t, "p").MatchFirst(section); n == nil || innerText(n) != "two" {
		t.Errorf("MatchFirst(p) in section = %v, want two", n)
	}
	if n := mustSelector(t, ".missing").MatchFirst(doc); n != nil {
		t.Errorf("MatchFirst(.missing) = %v, want nil", n)
	}
}

func TestInnerText(t *testing.T) {
	doc := parse(t, "<div>  a <script>var x;</script><b>b</b>\n\t c <style>p{}</style></div>")
	div := mustSelector(t, "div").MatchFirst(doc)
	if got := innerText(div); got != "a b c" {
		t.Errorf("innerText = %q, want %q", got, "a b c")
	}
}
