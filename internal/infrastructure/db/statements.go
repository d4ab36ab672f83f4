package db

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// StatementData is the template context for every vendor statement.
type StatementData struct {
	Label    string
	FreezeID string
	Success  bool
	Reason   string
}

type statementSet struct {
	freeze  *template.Template
	pending *template.Template
	thaw    *template.Template
}

func funcMap() template.FuncMap {
	fm := sprig.TxtFuncMap()
	fm["literal"] = quoteLiteral
	fm["number"] = requireNumber
	return fm
}

func parseStatements(s Statements) (*statementSet, error) {
	set := &statementSet{}
	var err error
	if set.freeze, err = parseStatement("freeze", s.Freeze); err != nil {
		return nil, err
	}
	if set.thaw, err = parseStatement("thaw", s.Thaw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.PendingFreezeIDs) != "" {
		if set.pending, err = parseStatement("pending_freeze_ids", s.PendingFreezeIDs); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func parseStatement(name, text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("database: %s statement is empty", name)
	}
	tmpl, err := template.New(name).Funcs(funcMap()).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("database: parse %s statement: %w", name, err)
	}
	return tmpl, nil
}

func render(tmpl *template.Template, data StatementData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("database: render %s statement: %w", tmpl.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// quoteLiteral renders s as a single-quoted SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func requireNumber(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("empty number")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%q is not a number", s)
		}
	}
	return s, nil
}
