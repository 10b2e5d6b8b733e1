package scanner_test

import (
	"go/scanner"
	gotoken "go/token"
	"testing"

	"github.com/stretchr/testify/require"

	langscanner "github.com/mna/ember/lang/scanner"
	"github.com/mna/ember/lang/token"
)

func scanAll(t *testing.T, src string) ([]token.Token, []langscanner.Value, scanner.ErrorList) {
	t.Helper()
	var s langscanner.Scanner
	var errs scanner.ErrorList
	s.Init([]byte(src), func(pos gotoken.Position, msg string) {
		errs.Add(pos, msg)
	})
	var toks []token.Token
	var vals []langscanner.Value
	for {
		tok, val := s.Scan()
		toks = append(toks, tok)
		vals = append(vals, val)
		if tok == token.EOF {
			break
		}
	}
	return toks, vals, errs
}

func TestScanPunctuation(t *testing.T) {
	toks, _, errs := scanAll(t, `( ) { } [ ] , . ; + - * / % ^ = ! < > -> || && == != <= >= _`)
	require.Empty(t, errs)
	want := []token.Token{
		token.LPAREN, token.RPAREN, token.LBRACE, token.RBRACE, token.LBRACK, token.RBRACK,
		token.COMMA, token.DOT, token.SEMI, token.PLUS, token.MINUS, token.STAR, token.SLASH,
		token.PERCENT, token.CARET, token.EQU, token.BANG, token.LT, token.GT, token.ARROW,
		token.OROR, token.ANDAND, token.EQU_EQU, token.BANG_EQU, token.LT_EQU, token.GT_EQU,
		token.UNDERSCORE, token.EOF,
	}
	require.Equal(t, want, toks)
}

func TestScanKeywordsAndIdents(t *testing.T) {
	toks, vals, errs := scanAll(t, `class extends match with x classy`)
	require.Empty(t, errs)
	require.Equal(t, []token.Token{
		token.CLASS, token.EXTENDS, token.MATCH, token.WITH, token.IDENT, token.IDENT, token.EOF,
	}, toks)
	require.Equal(t, "classy", vals[5].Raw)
}

func TestScanNumbers(t *testing.T) {
	toks, vals, errs := scanAll(t, `42 3.14`)
	require.Empty(t, errs)
	require.Equal(t, []token.Token{token.INT, token.FLOAT, token.EOF}, toks)
	require.Equal(t, float64(42), vals[0].Float)
	require.Equal(t, 3.14, vals[1].Float)
}

func TestScanString(t *testing.T) {
	toks, vals, errs := scanAll(t, "\"hello\nworld\"")
	require.Empty(t, errs)
	require.Equal(t, []token.Token{token.STRING, token.EOF}, toks)
	require.Equal(t, "hello\nworld", vals[0].String)
}

func TestScanUnterminatedString(t *testing.T) {
	_, _, errs := scanAll(t, `"oops`)
	require.NotEmpty(t, errs)
}

func TestScanLoneAmpPipeIsError(t *testing.T) {
	_, toks, _ := scanAll(t, `&`)
	_ = toks
	toks2, _, errs := scanAll(t, `& |`)
	require.NotEmpty(t, errs)
	require.Equal(t, []token.Token{token.ILLEGAL, token.ILLEGAL, token.EOF}, toks2)
}

func TestScanLineComment(t *testing.T) {
	toks, _, errs := scanAll(t, "let x = 1 // a comment\nlet y = 2")
	require.Empty(t, errs)
	require.Equal(t, []token.Token{
		token.LET, token.IDENT, token.EQU, token.INT,
		token.LET, token.IDENT, token.EQU, token.INT, token.EOF,
	}, toks)
}
