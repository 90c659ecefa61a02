package lookup

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"

	"github.com/c360/lookupstream/errors"
)

// Dialect is the bind variable syntax of a driver.
type Dialect int

const (
	// DialectQuestion binds positionally with ?.
	DialectQuestion Dialect = iota
	// DialectDollar binds by number with $1, $2, ...
	DialectDollar
)

// statementLexer splits SQL into the tokens that matter for placeholder
// rewriting. Everything that is not a comment, quoted text, a cast or a
// placeholder is passed through as Text.
var statementLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `--[^\n]*|/\*[\s\S]*?\*/`},
	{Name: "String", Pattern: `'(?:[^']|'')*'`},
	{Name: "QuotedIdent", Pattern: `"(?:[^"]|"")*"`},
	{Name: "Cast", Pattern: `::`},
	{Name: "Param", Pattern: `:[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Unterminated", Pattern: `['"]|/\*`},
	{Name: "Text", Pattern: `[^'":\-/]+|[\s\S]`},
})

var (
	paramToken        = statementLexer.Symbols()["Param"]
	unterminatedToken = statementLexer.Symbols()["Unterminated"]
)

// Statement is a SQL query with named placeholders rewritten for a dialect.
type Statement struct {
	text  string
	names []string // distinct placeholder names, in order of first use
	binds []string // placeholder name per bind variable, in bind order
}

// ParseStatement rewrites :name placeholders outside quoted text and
// comments into the bind syntax of dialect. A name used twice binds the same
// value twice.
func ParseStatement(sql string, dialect Dialect) (*Statement, error) {
	lex, err := statementLexer.LexString("", sql)
	if err != nil {
		return nil, errors.WrapInvalid(err, "lookup", "ParseStatement", "tokenize statement")
	}
	tokens, err := lexer.ConsumeAll(lex)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrParsingFailed, err),
			"lookup", "ParseStatement", "tokenize statement")
	}

	stmt := &Statement{}
	numbers := make(map[string]int)
	var b strings.Builder

	for _, token := range tokens {
		switch token.Type {
		case lexer.EOF:
		case unterminatedToken:
			return nil, errors.WrapInvalid(errors.ErrParsingFailed, "lookup", "ParseStatement",
				fmt.Sprintf("unterminated %s at %s", token.Value, token.Pos))
		case paramToken:
			name := token.Value[1:]
			if _, seen := numbers[name]; !seen {
				stmt.names = append(stmt.names, name)
				numbers[name] = len(stmt.names)
			}
			switch dialect {
			case DialectDollar:
				b.WriteString("$" + strconv.Itoa(numbers[name]))
			default:
				b.WriteByte('?')
				stmt.binds = append(stmt.binds, name)
			}
		default:
			b.WriteString(token.Value)
		}
	}

	if dialect == DialectDollar {
		stmt.binds = stmt.names
	}
	stmt.text = b.String()
	return stmt, nil
}

// Text returns the rewritten SQL.
func (s *Statement) Text() string {
	return s.text
}

// Names returns the distinct placeholder names in order of first use.
func (s *Statement) Names() []string {
	return append([]string(nil), s.names...)
}

// Args returns the bind values for params.
func (s *Statement) Args(params map[string]any) ([]any, error) {
	args := make([]any, len(s.binds))
	for i, name := range s.binds {
		value, ok := params[name]
		if !ok {
			return nil, missingParameter("Args", name)
		}
		args[i] = value
	}
	return args, nil
}

// Key renders the placeholder values, ordered by first use, as a JSON array
// of [type, value] pairs. Equal parameter sets give equal keys. The Go type is
// part of the key since values like []byte("abc") and "YWJj" encode alike.
func (s *Statement) Key(params map[string]any) (string, error) {
	values := make([]any, len(s.names))
	for i, name := range s.names {
		value, ok := params[name]
		if !ok {
			return "", missingParameter("Key", name)
		}
		values[i] = [2]any{fmt.Sprintf("%T", value), value}
	}

	data, err := json.Marshal(values)
	if err != nil {
		return "", errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidData, err),
			"lookup", "Key", "encode parameters")
	}
	return string(data), nil
}

func missingParameter(method, name string) error {
	return errors.WrapInvalid(errors.ErrMissingParameter, "lookup", method,
		fmt.Sprintf("no value for placeholder :%s", name))
}
