package logger

import (
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
)

const redactedMark = "[REDACTED]"

// Redactor masks credentials in log output
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
}

// NewRedactor creates a redactor for the credentials this service handles
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// Anthropic keys first so the generic sk- rule does not leave a suffix.
			regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),

			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),

			// Telegram bot tokens, bare or inside an API URL path.
			regexp.MustCompile(`\d{6,12}:[a-zA-Z0-9_-]{30,}`),

			regexp.MustCompile(`(?i)(api[_-]?key|token)["\s:=]+[a-zA-Z0-9._-]{20,}`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.patterns = append(r.patterns, re)
	r.mu.Unlock()
	return nil
}

// AddLiteral masks an exact secret value, such as a configured token.
// Values shorter than 8 characters are ignored.
func (r *Redactor) AddLiteral(secret string) {
	secret = strings.TrimSpace(secret)
	if len(secret) < 8 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.literals {
		if existing == secret {
			return
		}
	}
	r.literals = append(r.literals, secret)
	// Longest first so a secret that contains another is masked whole.
	sort.Slice(r.literals, func(i, j int) bool {
		return len(r.literals[i]) > len(r.literals[j])
	})
}

// Redact masks sensitive information in s
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := s
	for _, literal := range r.literals {
		result = strings.ReplaceAll(result, literal, redactedMark)
	}
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, redactedMark)
	}
	return result
}

// Wrap wraps an io.Writer so everything written through it is redacted
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so zerolog does not treat a shorter
// redacted line as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	redacted := w.redactor.Redact(string(p))
	if _, err := w.writer.Write([]byte(redacted)); err != nil {
		return 0, err
	}
	return len(p), nil
}
