package document

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"docextract/internal/common"
)

func writeInput(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeInput(t, t.TempDir(), "app-042.json", `{
		"document_id": "app-042",
		"pages": [
			{"number": 2, "text": "page two"},
			{"number": 1, "text": "page one"}
		]
	}`)

	doc, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if doc.ID != "app-042" {
		t.Errorf("id = %q", doc.ID)
	}
	if doc.Pages[0].Number != 1 || doc.Pages[0].Text != "page one" {
		t.Errorf("pages not sorted: %+v", doc.Pages)
	}
	if got := doc.Text(); got != "page one\npage two" {
		t.Errorf("Text() = %q", got)
	}
}

func TestLoadFromFileDerivesIDFromFilename(t *testing.T) {
	path := writeInput(t, t.TempDir(), "app-007.json",
		`{"pages":[{"text":"some content"}]}`)
	doc, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if doc.ID != "app-007" {
		t.Errorf("id = %q, want derived from filename", doc.ID)
	}
	if doc.Pages[0].Number != 1 {
		t.Errorf("missing page number not filled: %+v", doc.Pages[0])
	}
}

func TestLoadFromFileUnreadable(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name, body string
	}{
		{"not-json.json", "pages: nope"},
		{"no-pages.json", `{"document_id":"x","pages":[]}`},
		{"all-empty.json", `{"pages":[{"number":1,"text":"  "},{"number":2,"text":""}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeInput(t, dir, tc.name, tc.body)
			if _, err := LoadFromFile(path); !errors.Is(err, common.ErrDocumentUnreadable) {
				t.Errorf("err = %v, want ErrDocumentUnreadable", err)
			}
		})
	}

	if _, err := LoadFromFile(filepath.Join(dir, "missing.json")); !errors.Is(err, common.ErrDocumentUnreadable) {
		t.Errorf("missing file err = %v, want ErrDocumentUnreadable", err)
	}
}

func TestListInputs(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "b.json", "{}")
	writeInput(t, dir, "a.json", "{}")
	writeInput(t, dir, "notes.txt", "ignore me")
	if err := os.Mkdir(filepath.Join(dir, "sub.json"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	paths, err := ListInputs(dir)
	if err != nil {
		t.Fatalf("ListInputs: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("paths = %v, want the two JSON files", paths)
	}
	if filepath.Base(paths[0]) != "a.json" || filepath.Base(paths[1]) != "b.json" {
		t.Errorf("paths not sorted: %v", paths)
	}
}

func TestPageRangeText(t *testing.T) {
	doc := &SourceDocument{Pages: []Page{
		{Number: 1, Text: "one"},
		{Number: 2, Text: "two"},
		{Number: 3, Text: "three"},
	}}
	if got := doc.PageRangeText(2, 3); got != "two\nthree" {
		t.Errorf("PageRangeText(2,3) = %q", got)
	}
	if got := doc.PageRangeText(5, 9); got != "" {
		t.Errorf("out-of-range = %q, want empty", got)
	}

	sec := Section{PageStart: 1, PageEnd: 2}
	if got := sec.Text(doc); got != "one\ntwo" {
		t.Errorf("Section.Text = %q", got)
	}
	if sec.PageCount() != 2 {
		t.Errorf("PageCount = %d", sec.PageCount())
	}
}
