// Package encoding implements the UTF-8 read/write gate shared by every
// persistence layer in the agent core (capability cache, logs, pending
// writes, snapshots, reports). It strips stray BOMs, normalizes line
// endings, and refuses to persist corrupted text.
package encoding

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ShirasawaTopaz/order/internal/agenterr"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Report describes encoding fixups applied while reading or writing, so
// callers can surface a warning instead of silently rewriting a file.
type Report struct {
	HadUTF8BOM            bool
	NormalizedLineEndings bool
}

func (r Report) HasWarning() bool {
	return r.HadUTF8BOM || r.NormalizedLineEndings
}

// ReadUTF8Text reads path, stripping a leading UTF-8 BOM and normalizing
// CRLF/CR line endings to LF. An empty or absent-content file returns an
// empty string with a zero Report.
func ReadUTF8Text(path string) (string, Report, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", Report{}, err
	}
	if len(raw) == 0 {
		return "", Report{}, nil
	}

	var report Report
	report.HadUTF8BOM = bytes.HasPrefix(raw, utf8BOM)

	if !isValidUTF8(bytes.TrimPrefix(raw, utf8BOM)) {
		return "", Report{}, &agenterr.EncodingCorruption{
			Reason: fmt.Sprintf("file is not valid UTF-8: %s", path),
		}
	}

	// The UTF8BOM decoder strips a leading BOM and passes everything else
	// through untouched; validity was checked above so no replacement
	// characters can be introduced here.
	body, _, err := transform.Bytes(unicode.UTF8BOM.NewDecoder(), raw)
	if err != nil {
		return "", Report{}, &agenterr.EncodingCorruption{
			Reason: fmt.Sprintf("failed to decode %s: %v", path, err),
		}
	}

	decoded := string(body)
	normalized := normalizeToLF(decoded)
	report.NormalizedLineEndings = normalized != decoded
	return normalized, report, nil
}

// WriteUTF8Text writes content to path as UTF-8 without a BOM, normalizing
// line endings first. It refuses payloads containing U+FFFD or U+FEFF.
func WriteUTF8Text(path, content string) (Report, error) {
	if err := validateForWrite(content); err != nil {
		return Report{}, err
	}
	normalized := normalizeToLF(content)
	report := Report{NormalizedLineEndings: normalized != content}
	if err := os.WriteFile(path, []byte(normalized), 0o644); err != nil {
		return Report{}, err
	}
	return report, nil
}

// AppendJSONLine appends a single JSON-line event to path, creating it if
// missing. The payload must not contain an embedded newline after line-ending
// normalization.
func AppendJSONLine(path, line string) error {
	if err := validateForWrite(line); err != nil {
		return err
	}
	normalized := normalizeToLF(line)
	if strings.Contains(normalized, "\n") {
		return &agenterr.EncodingCorruption{
			Reason: fmt.Sprintf("JSON line contains an embedded newline, refusing to write: %s", path),
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(normalized + "\n")
	return err
}

func normalizeToLF(text string) string {
	if !strings.Contains(text, "\r") {
		return text
	}
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(normalized, "\r", "\n")
}

func validateForWrite(content string) error {
	if strings.ContainsRune(content, '\uFFFD') {
		return &agenterr.EncodingCorruption{
			Reason: "payload contains U+FFFD (likely corrupted encoding), refusing to write",
		}
	}
	if strings.ContainsRune(content, '\uFEFF') {
		return &agenterr.EncodingCorruption{
			Reason: "payload contains U+FEFF (stray BOM character), refusing to write",
		}
	}
	return nil
}

func isValidUTF8(b []byte) bool {
	return utf8.Valid(b)
}
