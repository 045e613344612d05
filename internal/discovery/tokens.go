package discovery

import "strings"

// TokenClass is the query-token category used to weight lexical scoring
// (§4.5 "Query analysis").
type TokenClass string

const (
	ClassAction   TokenClass = "ACTION"
	ClassObject   TokenClass = "OBJECT"
	ClassModifier TokenClass = "MODIFIER"
	ClassScope    TokenClass = "SCOPE"
	ClassOther    TokenClass = "OTHER"
)

// weight carries the per-class name/description scoring weights from §4.5.
type weight struct {
	name float64
	desc float64
}

var classWeights = map[TokenClass]weight{
	ClassAction:   {name: 0.7, desc: 0.35},
	ClassObject:   {name: 0.2, desc: 0.1},
	ClassModifier: {name: 0.05, desc: 0.025},
	ClassScope:    {name: 0.03, desc: 0.015},
	ClassOther:    {name: 0.15, desc: 0.075},
}

var actionWords = map[string]bool{
	"save": true, "write": true, "delete": true, "read": true, "create": true,
	"add": true, "remove": true, "update": true, "get": true, "view": true,
	"list": true, "fetch": true, "send": true, "edit": true, "upload": true,
	"download": true,
}

var objectWords = map[string]bool{
	"file": true, "document": true, "database": true, "user": true,
	"record": true, "message": true, "folder": true, "directory": true,
	"table": true, "email": true, "image": true, "event": true,
}

var modifierWords = map[string]bool{
	"text": true, "json": true, "large": true, "small": true, "binary": true,
	"csv": true, "xml": true, "yaml": true, "remote": true, "local": true,
}

var scopeWords = map[string]bool{
	"all": true, "multiple": true, "recursive": true, "batch": true,
	"every": true, "entire": true,
}

// Token is one classified query token.
type Token struct {
	Text  string
	Class TokenClass
}

// Tokenize splits on whitespace/punctuation, lowercases, discards tokens of
// length <= 2, and classifies each remaining token.
func Tokenize(query string) []Token {
	raw := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'))
	})

	tokens := make([]Token, 0, len(raw))
	for _, t := range raw {
		if len(t) <= 2 {
			continue
		}
		tokens = append(tokens, Token{Text: t, Class: classify(t)})
	}
	return tokens
}

func classify(token string) TokenClass {
	switch {
	case actionWords[token]:
		return ClassAction
	case objectWords[token]:
		return ClassObject
	case modifierWords[token]:
		return ClassModifier
	case scopeWords[token]:
		return ClassScope
	default:
		return ClassOther
	}
}

// DominantAction returns the first ACTION-classified token's text, if any.
func DominantAction(tokens []Token) (string, bool) {
	for _, t := range tokens {
		if t.Class == ClassAction {
			return t.Text, true
		}
	}
	return "", false
}
