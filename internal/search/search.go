// Package search implements the two-phase Searcher (C7): index
// materialization/filtering, a keyword scan over extracted plain text,
// and selector-driven snippet extraction, plus an optional advanced
// code/JSON block extractor.
package search

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/saintfish/chardet"

	"docretriever/internal/errors"
	"docretriever/internal/models"
	"docretriever/internal/store"
)

// searchableExtensions is the fixed set from spec.md 4.7; callers may
// also pass their own (e.g. from internal/config) via SearchableExts.
var searchableExtensions = map[string]struct{}{
	".html": {}, ".htm": {}, ".md": {}, ".rst": {}, ".txt": {}, ".json": {}, ".xml": {},
}

const previewLimit = 500

// Searcher runs the two-phase search over one batch.
type Searcher struct {
	BaseDir         string
	SearchableExts  map[string]struct{}
	charsetDetector *chardet.Detector
}

// NewSearcher builds a Searcher rooted at baseDir (the same root the
// fetchers and index writer use).
func NewSearcher(baseDir string) *Searcher {
	return &Searcher{
		BaseDir:         baseDir,
		SearchableExts:  searchableExtensions,
		charsetDetector: chardet.NewTextDetector(),
	}
}

type candidate struct {
	absPath      string
	canonicalURL string
	localPath    string
}

// Search executes Phase 1 (materialize + filter), Phase 2 (keyword
// scan), and Phase 3 (selector extraction) for req, returning up to
// req.Limit results in discovery order.
func (s *Searcher) Search(req models.SearchRequest) ([]models.SearchResultItem, error) {
	if len(req.ScanKeywords) == 0 {
		return nil, errors.NewValidationError("scan_keywords", "at least one keyword is required")
	}
	if req.ExtractSelector == "" {
		return nil, errors.NewValidationError("extract_selector", "must not be empty")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	candidates, err := s.phase1(req.DownloadID)
	if err != nil {
		return nil, err
	}

	var results []models.SearchResultItem
	for _, c := range candidates {
		if len(results) >= limit {
			break
		}
		text, ok := s.phase2(c.absPath, req.ScanKeywords)
		if !ok {
			continue
		}
		item, matched := s.phase3(c, text, req.ExtractSelector, req.ExtractKeywords)
		if !matched {
			continue
		}
		results = append(results, item)
	}
	return results, nil
}

// phase1 materializes index records into on-disk, in-scope candidates.
func (s *Searcher) phase1(downloadID string) ([]candidate, error) {
	records, err := store.ReadIndex(s.BaseDir, downloadID)
	if err != nil {
		return nil, err
	}

	contentRoot, err := filepath.Abs(filepath.Join(s.BaseDir, "content", downloadID))
	if err != nil {
		return nil, errors.NewIOError("resolve content root", err)
	}

	var out []candidate
	for _, rec := range records {
		if rec.FetchStatus != models.FetchSuccess || rec.LocalPath == "" {
			continue
		}
		abs, err := resolveUnder(contentRoot, rec.LocalPath)
		if err != nil {
			continue
		}
		ext := strings.ToLower(filepath.Ext(abs))
		if _, ok := s.SearchableExts[ext]; !ok {
			continue
		}
		if _, statErr := os.Stat(abs); statErr != nil {
			continue
		}
		out = append(out, candidate{absPath: abs, canonicalURL: rec.CanonicalURL, localPath: rec.LocalPath})
	}
	return out, nil
}

func resolveUnder(base, rel string) (string, error) {
	var candidate string
	if filepath.IsAbs(rel) {
		candidate = filepath.Clean(rel)
	} else {
		candidate = filepath.Join(base, rel)
	}
	r, err := filepath.Rel(base, candidate)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", errors.NewIOError("resolve local_path", errors.NewValidationError("local_path", "escapes batch root"))
	}
	return candidate, nil
}

// phase2 reads absPath with a UTF-8-lossy fallback, extracts plain
// text, and reports whether every scanKeyword is a case-insensitive
// substring of it.
func (s *Searcher) phase2(absPath string, scanKeywords []string) (string, bool) {
	text, err := s.extractText(absPath)
	if err != nil {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, kw := range scanKeywords {
		if !strings.Contains(lower, strings.ToLower(kw)) {
			return "", false
		}
	}
	return text, true
}

// extractText reads the file, runs saintfish/chardet over the raw bytes
// (the detected charset does not change the result: the bytes always go
// through Go's UTF-8-lossy repair), and for HTML/XML strips
// <script>/<style> before concatenating text including <title>.
func (s *Searcher) extractText(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", errors.NewIOError("read candidate file", err)
	}

	if result, err := s.charsetDetector.DetectBest(raw); err == nil && result != nil &&
		!strings.EqualFold(result.Charset, "UTF-8") && !strings.EqualFold(result.Charset, "ASCII") {
		// Best-effort: the pack carries no non-UTF-8 decoders, so we still
		// fall back to Go's UTF-8-lossy repair rather than transcoding.
	}
	text := strings.ToValidUTF8(string(raw), "�")

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".html" || ext == ".htm" || ext == ".xml" {
		return extractHTMLText(text)
	}
	return text, nil
}

func extractHTMLText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html, nil
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style").Remove()
	body := strings.TrimSpace(doc.Text())
	if title != "" {
		return title + "\n" + body, nil
	}
	return body, nil
}

func isHTMLPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".html" || ext == ".htm" || ext == ".xml"
}

// extractByXPath re-parses the candidate file and evaluates selector as
// an XPath expression, joining the text of every matching node. A parse
// or query failure (e.g. selector isn't valid XPath) is reported as no
// match, letting the caller fall back to the full text snippet.
func extractByXPath(path, selector string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	doc, err := htmlquery.Parse(f)
	if err != nil {
		return "", false
	}
	nodes, err := htmlquery.QueryAll(doc, selector)
	if err != nil || len(nodes) == 0 {
		return "", false
	}

	var parts []string
	for _, n := range nodes {
		if text := strings.TrimSpace(htmlquery.InnerText(n)); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}

// phase3 extracts the selector-driven snippet and applies the
// extract_keywords filter. Beyond the title special-case, a selector on
// an HTML/XML candidate is additionally tried as an XPath expression
// (via antchfx/htmlquery) before falling back to the full extracted
// text, a supplement over the plain "title-or-fallback" rule.
func (s *Searcher) phase3(c candidate, extractedText, selector string, extractKeywords []string) (models.SearchResultItem, bool) {
	snippet := extractedText
	switch {
	case strings.EqualFold(selector, "title"):
		if title := firstLine(extractedText); title != "" {
			snippet = title
		}
	case isHTMLPath(c.absPath):
		if xpathSnippet, ok := extractByXPath(c.absPath, selector); ok {
			snippet = xpathSnippet
		}
	}

	lower := strings.ToLower(snippet)
	for _, kw := range extractKeywords {
		if !strings.Contains(lower, strings.ToLower(kw)) {
			return models.SearchResultItem{}, false
		}
	}

	preview := snippet
	if len(preview) > previewLimit {
		preview = preview[:previewLimit] + "..."
	}

	return models.SearchResultItem{
		OriginalURL:     c.canonicalURL,
		LocalPath:       c.localPath,
		ContentPreview:  preview,
		MatchDetails:    "scan+selector",
		SelectorMatched: selector,
		SearchContext:   snippet,
	}, true
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return text[:idx]
	}
	return text
}
