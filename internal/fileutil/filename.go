package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	illegalChars = regexp.MustCompile(`[\/\\:*?"<>|]`)
	runsOfSpace  = regexp.MustCompile(`[\s_]+`)
)

// maxBaseRunes caps generated basenames. Counted in runes so Japanese titles
// are never cut mid-character.
const maxBaseRunes = 60

// SanitizeForFilename makes input safe for use as a file basename.
func SanitizeForFilename(input string) string {
	s := illegalChars.ReplaceAllString(input, "_")
	s = runsOfSpace.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-.")

	if r := []rune(s); len(r) > maxBaseRunes {
		s = strings.TrimRight(string(r[:maxBaseRunes]), "-")
	}
	if s == "" {
		return "lecture"
	}
	return s
}

// BaseName returns the sanitized basename of path without its extension.
func BaseName(path string) string {
	base := filepath.Base(path)
	return SanitizeForFilename(strings.TrimSuffix(base, filepath.Ext(base)))
}

// OutputPath returns dir/<basename of input><suffix>, e.g.
// OutputPath("out", "lec 1.mp4", "_analysis.txt") is "out/lec-1_analysis.txt".
func OutputPath(dir, input, suffix string) string {
	return filepath.Join(dir, BaseName(input)+suffix)
}

// UniquePath returns path if nothing exists there, otherwise the first free
// path of the form name_2.ext, name_3.ext, and so on.
func UniquePath(path string) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path, nil
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for i := 2; i < 1000; i++ {
		try := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, err := os.Stat(try); os.IsNotExist(err) {
			return try, nil
		}
	}
	return "", fmt.Errorf("no free name for %s", path)
}

// AtomicWriteFile writes data to a temp file next to path and renames it into
// place, so readers never see a partial file.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	ok = true

	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
