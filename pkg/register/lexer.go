package register

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// NameLexer splits a register name into its family word, channel index and
// trailing suffix. Rules are tried in order, so a leading underscore is always
// a suffix and a word never swallows digits.
//
//	STREAM_OUT0_BUFFER_F32 -> Word(STREAM_OUT) Int(0) Suffix(_BUFFER_F32)
//	AIN12                  -> Word(AIN) Int(12)
//	CORE_TIMER             -> Word(CORE_TIMER)
var NameLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "Suffix", Pattern: `_[A-Z0-9_]+`},
	{Name: "Word", Pattern: `[A-Z]+(?:_[A-Z]+)*`},
	{Name: "Int", Pattern: `[0-9]+`},
})
