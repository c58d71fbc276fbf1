package sandbox

import "fmt"

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokAssign   // =
	tokPlus     // +
	tokMinus    // -
	tokStar     // *
	tokSlash    // /
	tokPercent  // %
	tokEq       // ==
	tokNeq      // !=
	tokLt       // <
	tokLte      // <=
	tokGt       // >
	tokGte      // >=
	tokAnd      // &&
	tokOr       // ||
	tokBang     // !
	tokLParen   // (
	tokRParen   // )
	tokLBrace   // {
	tokRBrace   // }
	tokLBracket // [
	tokRBracket // ]
	tokComma    // ,
	tokDot      // .
	tokColon    // :
	tokNewline
	tokIf
	tokElse
	tokFor
	tokIn
	tokTrue
	tokFalse
	tokNull
)

var keywords = map[string]tokenKind{
	"if":    tokIf,
	"else":  tokElse,
	"for":   tokFor,
	"in":    tokIn,
	"true":  tokTrue,
	"false": tokFalse,
	"null":  tokNull,
}

// Pos is a 1-based source location in the submitted code.
type Pos struct {
	Line int `json:"line"`
	Col  int `json:"col"`
}

func (p Pos) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Col) }

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  Pos
}

func (t token) describe() string {
	switch t.kind {
	case tokEOF:
		return "end of code"
	case tokNewline:
		return "end of line"
	case tokString:
		return fmt.Sprintf("string %q", t.text)
	default:
		return fmt.Sprintf("%q", t.text)
	}
}
