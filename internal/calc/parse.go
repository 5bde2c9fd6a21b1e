package calc

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"github.com/statshost/host/internal/interp"
)

// statement is one top-level statement: an optional assignment target and
// an expr-lang expression.
type statement struct {
	src       string
	target    string
	body      string
	invisible bool
}

func (s *statement) Source() string { return s.src }

var assignRe = regexp.MustCompile(`^\s*([A-Za-z_][A-Za-z0-9_]*)\s*(<-|=)([\s\S]*)$`)

// invisibleCalls are builtins whose result is not printed at the console.
var invisibleCalls = map[string]bool{
	"print": true, "cat": true, "message": true, "sleep": true, "alert": true,
	"new_page": true, "line": true, "rect": true, "circle": true, "text": true,
	"polygon": true, "dev_off": true, "pen": true, "fill": true,
}

// Parse splits text into statements on newlines and ';' outside strings and
// brackets. Open brackets, open strings and trailing operators make the
// input incomplete.
func (r *Runtime) Parse(text string) ([]interp.Expr, interp.ParseStatus, error) {
	parts, status, err := splitStatements(text)
	if status != interp.ParseOK {
		return nil, status, err
	}

	exprs := make([]interp.Expr, 0, len(parts))
	for _, src := range parts {
		st := &statement{src: src, body: src}
		if m := assignRe.FindStringSubmatch(src); m != nil && !(m[2] == "=" && strings.HasPrefix(m[3], "=")) {
			st.target = m[1]
			st.body = strings.TrimSpace(m[3])
			st.invisible = true
		}
		tree, err := parser.Parse(st.body)
		if err != nil {
			return nil, interp.ParseError, interp.Errorf("%s", firstLine(err.Error()))
		}
		if call, ok := tree.Node.(*ast.CallNode); ok {
			if id, ok := call.Callee.(*ast.IdentifierNode); ok && invisibleCalls[id.Value] {
				st.invisible = true
			}
		}
		exprs = append(exprs, st)
	}
	return exprs, interp.ParseOK, nil
}

func splitStatements(text string) ([]string, interp.ParseStatus, error) {
	var (
		parts     []string
		cur       strings.Builder
		depth     int
		quote     rune
		escaped   bool
		lineBlank = true
		comment   bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			parts = append(parts, s)
		}
		cur.Reset()
	}

	for _, ch := range text {
		if comment {
			if ch == '\n' {
				comment = false
				lineBlank = true
				if depth == 0 && !endsWithOperator(cur.String()) {
					flush()
				} else {
					cur.WriteRune(ch)
				}
			}
			continue
		}
		if quote != 0 {
			cur.WriteRune(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\' && quote != '`':
				escaped = true
			case ch == quote:
				quote = 0
			}
			continue
		}

		switch ch {
		case '#':
			if lineBlank {
				comment = true
				continue
			}
		case '"', '\'', '`':
			quote = ch
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth < 0 {
				return nil, interp.ParseError, interp.Errorf("unexpected '%c'", ch)
			}
		case ';':
			if depth == 0 {
				flush()
				lineBlank = false
				continue
			}
		case '\n':
			lineBlank = true
			if depth == 0 && !endsWithOperator(cur.String()) {
				flush()
				continue
			}
			cur.WriteRune(ch)
			continue
		}
		if ch != ' ' && ch != '\t' && ch != '\r' {
			lineBlank = false
		}
		cur.WriteRune(ch)
	}

	if quote != 0 || depth > 0 || endsWithOperator(cur.String()) {
		return nil, interp.ParseIncomplete, nil
	}
	flush()
	if len(parts) == 0 {
		return nil, interp.ParseNull, nil
	}
	return parts, interp.ParseOK, nil
}

func endsWithOperator(s string) bool {
	s = strings.TrimRight(s, " \t\r\n")
	if s == "" {
		return false
	}
	return strings.ContainsRune("+-*/^%<>=!&|,:?", rune(s[len(s)-1]))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// parseErr is returned for statements built outside Parse.
func parseErr(e interp.Expr) error {
	return fmt.Errorf("calc: cannot evaluate %T", e)
}
