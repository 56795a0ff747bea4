// Package preview renders a read-only page for the version a preview token
// grants access to.
package preview

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"path"
	"strings"
	"time"

	"github.com/sunshine-walker-93/edge_config_admin/internal/config"
	"github.com/sunshine-walker-93/edge_config_admin/internal/rule"
)

// TokenResolver is the part of the version store the resolver needs.
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (config.Resolution, error)
}

// Page is a rendered preview.
type Page struct {
	VersionID string
	HTML      []byte
}

// Resolver turns a token and sub-path into a rendered preview.
type Resolver struct {
	tokens TokenResolver
}

// NewResolver creates a resolver backed by tokens.
func NewResolver(tokens TokenResolver) *Resolver {
	return &Resolver{tokens: tokens}
}

type ruleView struct {
	ID          string
	Type        string
	Description string
	Pattern     string
	Fields      string
	Applies     bool
}

type pageView struct {
	Token    config.PreviewToken
	Version  config.Version
	SubPath  string
	Rules    []ruleView
	Matching int
}

// Resolve looks up token and renders its version for subPath. Missing tokens
// or versions return config.ErrNotFound and expired tokens config.ErrExpired,
// both wrapped.
func (r *Resolver) Resolve(ctx context.Context, token, subPath string) (Page, error) {
	res, err := r.tokens.ResolveToken(ctx, token)
	if err != nil {
		return Page{}, err
	}

	subPath = "/" + strings.TrimLeft(subPath, "/")
	view := pageView{
		Token:   res.Token,
		Version: res.Version,
		SubPath: subPath,
		Rules:   make([]ruleView, 0, len(res.Version.Plan.Rules)),
	}
	for _, rl := range res.Version.Plan.Rules {
		rv := describe(rl)
		rv.Applies = Matches(rv.Pattern, subPath)
		if rv.Applies {
			view.Matching++
		}
		view.Rules = append(view.Rules, rv)
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, view); err != nil {
		return Page{}, fmt.Errorf("render preview: %w", err)
	}
	return Page{VersionID: res.Version.ID, HTML: buf.Bytes()}, nil
}

func describe(rl rule.Rule) ruleView {
	rv := ruleView{ID: rl.ID, Type: string(rl.Type()), Description: rl.Description}
	if p, ok := rl.StringField("path"); ok {
		rv.Pattern = p
	} else if f, ok := rl.StringField("from"); ok {
		rv.Pattern = f
	}
	if canon, err := rl.Canonical(); err == nil {
		rv.Fields = string(canon)
	}
	return rv
}

// Matches reports whether a rule pattern covers subPath. An empty pattern
// covers every path and a trailing "*" matches by prefix; anything else is a
// path.Match glob.
func Matches(pattern, subPath string) bool {
	if pattern == "" {
		return true
	}
	if strings.HasSuffix(pattern, "*") && !strings.ContainsAny(strings.TrimSuffix(pattern, "*"), "*?[") {
		return strings.HasPrefix(subPath, strings.TrimSuffix(pattern, "*"))
	}
	ok, err := path.Match(pattern, subPath)
	return err == nil && ok
}

var pageTemplate = template.Must(template.New("preview").Funcs(template.FuncMap{
	"ts": func(t *time.Time) string {
		if t == nil {
			return "never"
		}
		return t.UTC().Format(time.RFC3339)
	},
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="robots" content="noindex">
<title>Preview {{.Version.ID}}</title>
</head>
<body>
<header>
<h1>Configuration preview</h1>
<dl>
<dt>Version</dt><dd>{{.Version.ID}}</dd>
{{- with .Version.Description}}
<dt>Description</dt><dd>{{.}}</dd>
{{- end}}
<dt>Promoted by</dt><dd>{{if .Version.PromotedBy}}{{.Version.PromotedBy}}{{else}}n/a{{end}}</dd>
<dt>Promoted at</dt><dd>{{ts .Version.PromotedAt}}</dd>
<dt>Path</dt><dd>{{.SubPath}}</dd>
<dt>Token expires</dt><dd>{{ts .Token.ExpiresAt}}</dd>
</dl>
</header>
<main>
<p>{{.Matching}} of {{len .Rules}} rules apply to this path.</p>
<table>
<thead><tr><th>ID</th><th>Type</th><th>Pattern</th><th>Applies</th><th>Definition</th></tr></thead>
<tbody>
{{- range .Rules}}
<tr{{if .Applies}} class="applies"{{end}}>
<td>{{.ID}}</td>
<td>{{.Type}}</td>
<td>{{if .Pattern}}{{.Pattern}}{{else}}*{{end}}</td>
<td>{{if .Applies}}yes{{else}}no{{end}}</td>
<td><code>{{.Fields}}</code>{{with .Description}}<br>{{.}}{{end}}</td>
</tr>
{{- end}}
</tbody>
</table>
</main>
</body>
</html>
`))
