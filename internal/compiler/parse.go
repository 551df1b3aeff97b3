package compiler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
)

var errNoJSON = errors.New("reply contains no JSON object")

// StripFences removes a surrounding markdown code fence, if any
func StripFences(reply string) string {
	s := strings.TrimSpace(reply)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the info string, e.g. ```json
		if !strings.ContainsAny(s[:nl], "{[") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ExtractJSON returns the outermost JSON object in reply. Braces inside
// string literals are ignored.
func ExtractJSON(reply string) (string, error) {
	s := StripFences(reply)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errNoJSON
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("reply JSON object is not closed")
}

// ParseWorkflow extracts and decodes a workflow from a model reply
func ParseWorkflow(reply string) (*domain.Workflow, error) {
	raw, err := ExtractJSON(reply)
	if err != nil {
		return nil, err
	}
	var wf domain.Workflow
	if err := json.Unmarshal([]byte(raw), &wf); err != nil {
		return nil, fmt.Errorf("failed to decode workflow: %w", err)
	}
	if wf.Commands == nil {
		return nil, fmt.Errorf("workflow has no commands field")
	}
	return &wf, nil
}
