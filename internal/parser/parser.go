// Package parser extracts frontmatter, links, and tags from Markdown notes
// and builds the note records the index stores.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

var (
	// ErrUnterminatedFrontmatter is returned by strict parsing when the
	// opening --- has no closing delimiter.
	ErrUnterminatedFrontmatter = errors.New("unterminated frontmatter")
	// ErrInvalidFrontmatter wraps YAML errors in strict parsing.
	ErrInvalidFrontmatter = errors.New("invalid frontmatter")
)

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Links       []WikiLink
	Tags        []string
	Title       string
}

// WikiLink is a [[label|target]] reference.
type WikiLink struct {
	Target string
	Alias  string
	Vault  string
}

// Parse extracts frontmatter, body, wikilinks, and tags from raw Markdown
// bytes. Broken frontmatter is treated as part of the body.
func Parse(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		fm, body = nil, string(data)
	}
	return build(fm, body), nil
}

// ParseStrict is Parse but reports broken frontmatter instead of falling
// back to treating it as body.
func ParseStrict(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}
	return build(fm, body), nil
}

func build(fm map[string]interface{}, body string) *Result {
	return &Result{
		Frontmatter: fm,
		Body:        body,
		Links:       extractLinks(body),
		Tags:        extractTags(body, fm),
		Title:       deriveTitle(fm, body),
	}
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, "", ErrUnterminatedFrontmatter
	}

	yamlBlock := rest[:idx]
	// Body starts after closing delimiter line.
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidFrontmatter, err)
	}

	return fm, body, nil
}

// extractLinks returns deduplicated wikilinks. Links follow the
// [[label|target#anchor]] form; a dendron://vault/ prefix pins the target
// to another vault.
func extractLinks(body string) []WikiLink {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []WikiLink
	for _, m := range matches {
		link := parseWikiLink(m[1])
		if link.Target == "" {
			continue
		}
		key := link.Vault + "/" + link.Target
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, link)
	}
	return out
}

func parseWikiLink(raw string) WikiLink {
	var link WikiLink
	target := raw
	if i := strings.LastIndex(raw, "|"); i >= 0 {
		link.Alias = strings.TrimSpace(raw[:i])
		target = raw[i+1:]
	}
	if i := strings.Index(target, "#"); i >= 0 {
		target = target[:i]
	}
	target = strings.TrimSpace(target)
	if rest, ok := strings.CutPrefix(target, "dendron://"); ok {
		if i := strings.Index(rest, "/"); i >= 0 {
			link.Vault = rest[:i]
			target = rest[i+1:]
		} else {
			target = ""
		}
	}
	link.Target = strings.TrimSpace(target)
	return link
}

// extractTags collects #tags from body and from frontmatter "tags" field.
func extractTags(body string, fm map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; !dup {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}

	if fm != nil {
		switch v := fm["tags"].(type) {
		case []interface{}:
			for _, item := range v {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		case string:
			for _, s := range strings.Split(v, ",") {
				add(s)
			}
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}

	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]interface{}, body string) string {
	if fm != nil {
		if s, ok := fm["title"].(string); ok && s != "" {
			return s
		}
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
