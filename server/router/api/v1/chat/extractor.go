package chat

import (
	"strings"
	"unicode"

	"github.com/hrygo/loom/store"
)

// artifactTag is the tag the system prompt instructs the model to wrap
// structured content in. It is a private wire format between the prompt
// and this parser.
const artifactTag = "loomArtifact"

// ExtractedArtifact is one artifact block parsed from assistant text.
type ExtractedArtifact struct {
	Identifier string
	Type       store.ArtifactType
	Language   string
	Title      string
	Content    string
}

// ExtractArtifacts scans assistant response text for artifact blocks and
// returns them in document order. The parse is a small state machine, not
// a regex: a block is an opening tag with attributes, a body running to
// the first matching closing tag, and the closing tag itself. An opening
// tag with no closing tag is skipped entirely. Nested opening tags are
// treated as literal body text.
func ExtractArtifacts(text string) []ExtractedArtifact {
	var artifacts []ExtractedArtifact
	open := "<" + artifactTag
	closing := "</" + artifactTag + ">"

	pos := 0
	for {
		start := strings.Index(text[pos:], open)
		if start < 0 {
			break
		}
		start += pos

		attrs, bodyStart, ok := parseOpenTag(text, start+len(open))
		if !ok {
			pos = start + len(open)
			continue
		}

		end := strings.Index(text[bodyStart:], closing)
		if end < 0 {
			// Unterminated block, likely a truncated response.
			break
		}
		end += bodyStart

		content := strings.TrimSpace(text[bodyStart:end])
		title := attrs["title"]
		if title == "" {
			title = "Untitled Artifact"
		}

		artifacts = append(artifacts, ExtractedArtifact{
			Identifier: attrs["identifier"],
			Type:       classifyArtifact(attrs["type"], content),
			Language:   attrs["language"],
			Title:      title,
			Content:    content,
		})

		pos = end + len(closing)
	}
	return artifacts
}

// parseOpenTag consumes attributes after the tag name up to the closing
// '>'. It returns the attribute map and the index just past '>'. A tag
// whose name continues with more letters (e.g. a longer tag sharing the
// prefix) or that never closes is rejected.
func parseOpenTag(text string, i int) (map[string]string, int, bool) {
	if i < len(text) && !unicode.IsSpace(rune(text[i])) && text[i] != '>' {
		return nil, 0, false
	}

	attrs := map[string]string{}
	for i < len(text) {
		for i < len(text) && unicode.IsSpace(rune(text[i])) {
			i++
		}
		if i >= len(text) {
			return nil, 0, false
		}
		if text[i] == '>' {
			return attrs, i + 1, true
		}
		if text[i] == '/' {
			// Self-closing tags carry no body; not a valid artifact block.
			return nil, 0, false
		}

		nameStart := i
		for i < len(text) && text[i] != '=' && text[i] != '>' && !unicode.IsSpace(rune(text[i])) {
			i++
		}
		name := strings.ToLower(text[nameStart:i])
		if i >= len(text) || text[i] != '=' {
			// Bare attribute without a value; ignore it.
			continue
		}
		i++
		if i >= len(text) || (text[i] != '"' && text[i] != '\'') {
			return nil, 0, false
		}
		quote := text[i]
		i++
		valueStart := i
		for i < len(text) && text[i] != quote {
			i++
		}
		if i >= len(text) {
			return nil, 0, false
		}
		attrs[name] = text[valueStart:i]
		i++
	}
	return nil, 0, false
}

// classifyArtifact resolves the artifact type. The explicit type hint wins
// first by substring match against the known vocabulary, then `code` is
// the default; content sniffing overrides both for bodies that are
// unambiguously SVG, HTML, or diagram source.
func classifyArtifact(typeHint, content string) store.ArtifactType {
	resolved := store.ArtifactTypeCode

	hint := strings.ToLower(typeHint)
	for _, t := range []store.ArtifactType{
		store.ArtifactTypeCode,
		store.ArtifactTypeHTML,
		store.ArtifactTypeSVG,
		store.ArtifactTypeReact,
		store.ArtifactTypeMermaid,
		store.ArtifactTypeText,
	} {
		if strings.Contains(hint, string(t)) {
			resolved = t
			break
		}
	}

	if sniffed, ok := sniffContent(content); ok {
		return sniffed
	}
	return resolved
}

var mermaidKeywords = []string{
	"graph TD", "graph LR", "graph TB", "graph RL",
	"flowchart ", "sequenceDiagram", "classDiagram",
	"stateDiagram", "erDiagram", "gantt", "pie title", "mindmap",
}

func sniffContent(content string) (store.ArtifactType, bool) {
	trimmed := strings.TrimSpace(content)
	lower := strings.ToLower(trimmed)

	switch {
	case strings.HasPrefix(lower, "<svg"):
		return store.ArtifactTypeSVG, true
	case strings.HasPrefix(lower, "<!doctype html"), strings.HasPrefix(lower, "<html"):
		return store.ArtifactTypeHTML, true
	}
	for _, kw := range mermaidKeywords {
		if strings.Contains(trimmed, kw) {
			return store.ArtifactTypeMermaid, true
		}
	}
	return "", false
}
