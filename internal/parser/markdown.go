package parser

import (
	"net/url"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/starford/stave/internal/models"
)

var md = goldmark.New()

// MarkdownLink is an inline [text](dest) or <autolink> reference.
type MarkdownLink struct {
	Destination string
	External    bool
}

// ExtractMarkdownLinks walks the goldmark AST of body and returns every
// link destination, deduplicated, in document order. Images are skipped.
func ExtractMarkdownLinks(body string) []MarkdownLink {
	src := []byte(body)
	doc := md.Parser().Parse(text.NewReader(src))

	seen := make(map[string]struct{})
	var out []MarkdownLink
	add := func(dest string) {
		dest = strings.TrimSpace(dest)
		if dest == "" {
			return
		}
		if _, ok := seen[dest]; ok {
			return
		}
		seen[dest] = struct{}{}
		out = append(out, MarkdownLink{Destination: dest, External: isExternal(dest)})
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch l := n.(type) {
		case *ast.Link:
			add(string(l.Destination))
		case *ast.AutoLink:
			add(string(l.URL(src)))
		}
		return ast.WalkContinue, nil
	})
	return out
}

func isExternal(dest string) bool {
	u, err := url.Parse(dest)
	if err != nil {
		return false
	}
	return u.Scheme != ""
}

// noteLinkTarget turns a relative markdown destination such as
// "./foo.bar.md#intro" into the hierarchical name "foo.bar".
func noteLinkTarget(dest string) string {
	if i := strings.IndexAny(dest, "#?"); i >= 0 {
		dest = dest[:i]
	}
	if dest == "" {
		return ""
	}
	if unescaped, err := url.PathUnescape(dest); err == nil {
		dest = unescaped
	}
	base := path.Base(dest)
	return strings.TrimSuffix(base, ".md")
}

// collectLinks merges wikilinks and markdown links into link edges.
func collectLinks(wiki []WikiLink, body string) []models.LinkEdge {
	var out []models.LinkEdge
	seen := make(map[models.LinkEdge]struct{})
	add := func(e models.LinkEdge) {
		key := models.LinkEdge{Type: e.Type, Target: e.Target, Vault: e.Vault}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}

	for _, w := range wiki {
		add(models.LinkEdge{Type: models.LinkWiki, Target: w.Target, Vault: w.Vault, Alias: w.Alias})
	}
	for _, l := range ExtractMarkdownLinks(body) {
		if l.External {
			add(models.LinkEdge{Type: models.LinkExternal, Target: l.Destination})
			continue
		}
		if t := noteLinkTarget(l.Destination); t != "" && t != "." && t != "/" {
			add(models.LinkEdge{Type: models.LinkMarkdown, Target: t})
		}
	}
	return out
}
