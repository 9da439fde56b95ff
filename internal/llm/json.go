package llm

import "strings"

// cleanJSON strips markdown fences and stray prose around a JSON value.
// openCh and closeCh are the delimiters of the expected top-level value.
func cleanJSON(raw string, openCh, closeCh byte) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		idx := strings.Index(s, "\n")
		if idx == -1 {
			return s
		}
		s = strings.TrimSpace(s[idx+1:])
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = strings.TrimSpace(s[:idx])
	}

	if start := strings.IndexByte(s, openCh); start != -1 {
		if end := strings.LastIndexByte(s, closeCh); end > start {
			s = s[start : end+1]
		}
	}

	return s
}
