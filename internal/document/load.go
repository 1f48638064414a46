package document

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"docextract/internal/common"
)

// LoadFromFile reads one document's per-page JSON as produced by the
// upstream text extractor. Unreadable or structurally empty input maps to
// ErrDocumentUnreadable so the orchestrator can fail the document and move
// on.
func LoadFromFile(path string) (*SourceDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrDocumentUnreadable, path, err)
	}

	var doc SourceDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrDocumentUnreadable, path, err)
	}
	if doc.ID == "" {
		doc.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if doc.Name == "" {
		doc.Name = filepath.Base(path)
	}
	if len(doc.Pages) == 0 {
		return nil, fmt.Errorf("%w: %s: no pages", common.ErrDocumentUnreadable, path)
	}

	// Normalize page numbering: sort, then fill in missing numbers so the
	// rest of the pipeline can rely on 1-based ordered pages.
	sort.SliceStable(doc.Pages, func(i, j int) bool { return doc.Pages[i].Number < doc.Pages[j].Number })
	for i := range doc.Pages {
		if doc.Pages[i].Number <= 0 {
			doc.Pages[i].Number = i + 1
		}
	}

	empty := 0
	for _, p := range doc.Pages {
		if strings.TrimSpace(p.Text) == "" {
			empty++
		}
	}
	if empty == len(doc.Pages) {
		return nil, fmt.Errorf("%w: %s: all pages empty", common.ErrDocumentUnreadable, path)
	}

	return &doc, nil
}

// ListInputs returns the page-JSON files under dir, sorted by name.
func ListInputs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
