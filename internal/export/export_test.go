package export

import (
	"strings"
	"testing"
	"time"
)

func TestRenderInventoryHTML(t *testing.T) {
	html, err := RenderInventoryHTML(TemplateData{
		BoxName:     "Riverside Box",
		Location:    "12 Quay Street",
		GeneratedAt: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Books: []TemplateBook{
			{Title: "Dune", Authors: "Frank Herbert", Publisher: "Chilton", Year: 1965, ISBN: "9780441172719"},
		},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"Riverside Box", "12 Quay Street", "Dune", "Frank Herbert", "1965", "Mar 14, 2026"} {
		if !strings.Contains(html, want) {
			t.Fatalf("rendered html missing %q", want)
		}
	}
}

func TestRenderInventoryHTMLEmptyBox(t *testing.T) {
	html, err := RenderInventoryHTML(TemplateData{BoxName: "Empty Box", GeneratedAt: time.Now()})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(html, "currently empty") {
		t.Fatal("expected empty-box notice")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Riverside Box":   "Riverside-Box",
		"Café / Lire !":   "Caf--Lire-",
		"":                "inventory",
		strings.Repeat("a", 80): strings.Repeat("a", 50),
	}
	for input, want := range cases {
		if got := sanitizeFilename(input); got != want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	cases := map[string]string{
		"a b<c>": "a%20b%3Cc%3E",
		// Non-ASCII runes must come out as their UTF-8 bytes so the
		// charset=utf-8 data URL decodes them back intact.
		"é": "%C3%A9",
		"Harry Potter à L'école": "Harry%20Potter%20%C3%A0%20L%27%C3%A9cole",
	}
	for input, want := range cases {
		if got := percentEncodeForDataURL(input); got != want {
			t.Fatalf("percentEncodeForDataURL(%q) = %q, want %q", input, got, want)
		}
	}
}
