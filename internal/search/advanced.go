package search

import (
	"regexp"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"docretriever/internal/models"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// fencedCodeRE matches fenced Markdown code blocks, capturing an
// optional language tag and the block body.
var fencedCodeRE = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\\n(.*?)```")

// AdvancedRequest parameterizes the optional code/JSON extractor.
type AdvancedRequest struct {
	ScanKeywords      []string
	ExtractKeywords   []string
	CodeBlockPriority bool
}

// ExtractBlocks splits content (HTML or Markdown) into text/code/JSON
// ContentBlocks, keeping only blocks that match per spec.md 4.7's
// advanced-extractor rules, and sorts code-block-priority first when
// requested, then by descending score.
func (s *Searcher) ExtractBlocks(sourceURL, content string, req AdvancedRequest) []models.SearchResultItem {
	blocks := splitBlocks(content)

	var matched []models.SearchResultItem
	for _, b := range blocks {
		b.SourceURL = sourceURL
		item, score, ok := evaluateBlock(b, req)
		if !ok {
			continue
		}
		item.ContentBlock = &b
		scoreCopy := score
		item.CodeBlockScore = &scoreCopy
		matched = append(matched, item)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		bi, bj := matched[i].ContentBlock, matched[j].ContentBlock
		if req.CodeBlockPriority && (bi.Type == models.BlockCode) != (bj.Type == models.BlockCode) {
			return bi.Type == models.BlockCode
		}
		si, sj := scoreOf(matched[i]), scoreOf(matched[j])
		return si > sj
	})
	return matched
}

func scoreOf(item models.SearchResultItem) float64 {
	if item.CodeBlockScore == nil {
		return 0
	}
	return *item.CodeBlockScore
}

// splitBlocks extracts fenced code blocks and treats the remaining text
// (with code fences removed) as one text block. JSON blocks are code
// blocks whose language tag is "json" or whose body parses as JSON.
func splitBlocks(content string) []models.ContentBlock {
	var blocks []models.ContentBlock
	matches := fencedCodeRE.FindAllStringSubmatchIndex(content, -1)

	cursor := 0
	line := 1
	for _, m := range matches {
		start, end := m[0], m[1]
		langStart, langEnd := m[2], m[3]
		bodyStart, bodyEnd := m[4], m[5]

		if start > cursor {
			text := content[cursor:start]
			if strings.TrimSpace(text) != "" {
				blocks = append(blocks, models.ContentBlock{
					Type:      models.BlockText,
					Content:   text,
					StartLine: line,
					EndLine:   line + strings.Count(text, "\n"),
				})
			}
			line += strings.Count(text, "\n")
		}

		lang := content[langStart:langEnd]
		body := content[bodyStart:bodyEnd]
		blockType := models.BlockCode
		if strings.EqualFold(lang, "json") || looksLikeJSON(body) {
			blockType = models.BlockJSON
		}
		blocks = append(blocks, models.ContentBlock{
			Type:      blockType,
			Content:   body,
			Language:  lang,
			StartLine: line,
			EndLine:   line + strings.Count(content[start:end], "\n"),
		})
		line += strings.Count(content[start:end], "\n")
		cursor = end
	}
	if cursor < len(content) {
		text := content[cursor:]
		if strings.TrimSpace(text) != "" {
			blocks = append(blocks, models.ContentBlock{
				Type:      models.BlockText,
				Content:   text,
				StartLine: line,
				EndLine:   line + strings.Count(text, "\n"),
			})
		}
	}
	return blocks
}

func looksLikeJSON(body string) bool {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return false
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return false
	}
	var v any
	return jsonAPI.UnmarshalFromString(trimmed, &v) == nil
}

// evaluateBlock applies the per-type matching rule and returns a
// relevance score when the block matches.
func evaluateBlock(b models.ContentBlock, req AdvancedRequest) (models.SearchResultItem, float64, bool) {
	all := append(append([]string{}, req.ScanKeywords...), req.ExtractKeywords...)

	switch b.Type {
	case models.BlockJSON:
		score, ok := jsonMatchScore(b.Content, req.ScanKeywords)
		if !ok {
			ok = containsAnyVerbatim(b.Content, all)
			score = boolScore(ok)
		}
		if !ok {
			return models.SearchResultItem{}, 0, false
		}
		return blockResult(b, score), score, true

	case models.BlockCode:
		if !containsAll(b.Content, all) {
			return models.SearchResultItem{}, 0, false
		}
		score := codeScore(b, all)
		return blockResult(b, score), score, true

	default: // text
		if !containsAll(b.Content, all) {
			return models.SearchResultItem{}, 0, false
		}
		score := 1.0
		return blockResult(b, score), score, true
	}
}

func blockResult(b models.ContentBlock, score float64) models.SearchResultItem {
	preview := b.Content
	if len(preview) > previewLimit {
		preview = preview[:previewLimit] + "..."
	}
	return models.SearchResultItem{
		OriginalURL:    b.SourceURL,
		ContentPreview: preview,
		SearchContext:  b.Content,
	}
}

func containsAll(content string, keywords []string) bool {
	lower := strings.ToLower(content)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if !strings.Contains(lower, strings.ToLower(kw)) {
			return false
		}
	}
	return true
}

func containsAnyVerbatim(content string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(content, kw) {
			return true
		}
	}
	return false
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

// codeScore counts the keywords present in the block plus a 0.5 bonus
// for any non-empty language tag, so a match with a named language ranks
// above an unlabeled fence with the same keyword hits.
func codeScore(b models.ContentBlock, keywords []string) float64 {
	hits := 0
	lower := strings.ToLower(b.Content)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			hits++
		}
	}
	score := float64(hits)
	if b.Language != "" {
		score += 0.5
	}
	return score
}

// jsonMatchScore parses body as JSON and counts keyword hits in object
// keys and in string values, returning the combined count as a positive
// score on any hit. Keys and values are always searched together; there
// is no separate structure mode and no way to select a single mode.
func jsonMatchScore(body string, scanKeywords []string) (float64, bool) {
	var parsed any
	if err := jsonAPI.UnmarshalFromString(body, &parsed); err != nil {
		return 0, false
	}
	keyHits := searchJSONKeys(parsed, scanKeywords)
	valueHits := searchJSONValues(parsed, scanKeywords)
	total := keyHits + valueHits
	if total == 0 {
		return 0, false
	}
	return float64(total), true
}

func searchJSONKeys(node any, keywords []string) int {
	hits := 0
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			lowerK := strings.ToLower(k)
			for _, kw := range keywords {
				if kw != "" && strings.Contains(lowerK, strings.ToLower(kw)) {
					hits++
				}
			}
			hits += searchJSONKeys(child, keywords)
		}
	case []any:
		for _, child := range v {
			hits += searchJSONKeys(child, keywords)
		}
	}
	return hits
}

func searchJSONValues(node any, keywords []string) int {
	hits := 0
	switch v := node.(type) {
	case map[string]any:
		for _, child := range v {
			hits += searchJSONValues(child, keywords)
		}
	case []any:
		for _, child := range v {
			hits += searchJSONValues(child, keywords)
		}
	case string:
		lowerV := strings.ToLower(v)
		for _, kw := range keywords {
			if kw != "" && strings.Contains(lowerV, strings.ToLower(kw)) {
				hits++
			}
		}
	}
	return hits
}
