package register

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
)

// Name is the parsed form of a register name.
type Name struct {
	Family string `parser:"@Word"`
	Index  *int   `parser:"@Int?"`
	Suffix string `parser:"@Suffix?"`
}

// Indexed reports whether the name carries a channel index.
func (n *Name) Indexed() bool {
	return n.Index != nil
}

// Channel returns the channel index, or -1 for unindexed names.
func (n *Name) Channel() int {
	if n.Index == nil {
		return -1
	}
	return *n.Index
}

// String rebuilds the canonical register name.
func (n *Name) String() string {
	var sb strings.Builder
	sb.WriteString(n.Family)
	if n.Index != nil {
		fmt.Fprintf(&sb, "%d", *n.Index)
	}
	sb.WriteString(n.Suffix)
	return sb.String()
}

var nameParser = participle.MustBuild[Name](
	participle.Lexer(NameLexer),
	participle.Elide("Whitespace"),
)

// Parse parses a register name such as "AIN0" or "STREAM_OUT1_BUFFER_STATUS".
// Names are case-insensitive.
func Parse(name string) (*Name, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(name))
	if trimmed == "" {
		return nil, fmt.Errorf("register: empty name")
	}
	n, err := nameParser.ParseString("", trimmed)
	if err != nil {
		return nil, fmt.Errorf("register: parse %q: %w", name, err)
	}
	return n, nil
}
