package urlutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/kennygrant/sanitize"
)

const (
	maxTotalPathLen      = 400
	maxURLFilenameBaseLen = 100
	defaultExtension     = ".html"
)

var urlReplacer = strings.NewReplacer(
	"://", "_",
	"/", "_",
	"?", "_",
	"&", "_",
	"=", "_",
	"#", "_",
)

// URLToLocalPath computes the collision-free local path for a URL under
// baseDir: <base_dir>/<safe_host>/<sanitized_url>-<hash8><ext>. It never
// touches the filesystem. For any two distinct canonical URLs the result
// differs (by the hash suffix); for identical canonical URLs the result
// is byte-identical.
func URLToLocalPath(baseDir, rawURL string, allowedExtensions []string) (string, error) {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("url_to_local_path: resolve base dir: %w", err)
	}

	canon, err := Canonicalize(rawURL)
	if err != nil {
		return "", fmt.Errorf("url_to_local_path: %w", err)
	}
	parsed, err := url.Parse(canon)
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("url_to_local_path: invalid canonical url %q", canon)
	}

	safeHost := sanitize.Name(parsed.Host)
	if safeHost == "" {
		safeHost = "_"
	}

	urlHash := sha256.Sum256([]byte(canon))
	hash8 := hex.EncodeToString(urlHash[:])[:8]

	ext := extensionFor(parsed.Path, allowedExtensions)

	filenameBase := sanitize.Name(urlReplacer.Replace(canon))
	if len(filenameBase) > maxURLFilenameBaseLen {
		filenameBase = filenameBase[:maxURLFilenameBaseLen]
	}
	if filenameBase == "" {
		filenameBase = "url"
	}

	filename := fmt.Sprintf("%s-%s%s", filenameBase, hash8, ext)
	target := filepath.Join(absBase, safeHost, filename)

	if len(target) > maxTotalPathLen {
		shortFilename := fmt.Sprintf("url-%s%s", hash8, ext)
		target = filepath.Join(absBase, safeHost, shortFilename)
		if len(target) > maxTotalPathLen {
			return "", fmt.Errorf("url_to_local_path: path for %q exceeds %d chars even after shortening", rawURL, maxTotalPathLen)
		}
	}

	if !isUnder(absBase, target) {
		return "", fmt.Errorf("url_to_local_path: computed path %q escapes base %q", target, absBase)
	}

	return target, nil
}

func extensionFor(path string, allowed []string) string {
	ext := strings.ToLower(filepath.Ext(path))
	for _, a := range allowed {
		if ext == a {
			return ext
		}
	}
	return defaultExtension
}

// isUnder reports whether target lies at or under base once both are
// cleaned, guarding against any path-construction mistake that would
// otherwise escape the base directory.
func isUnder(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
