package config

import (
	"fmt"
	"strconv"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// overrideDoc is the tiny grammar ParseOverride accepts for
// name:key=value,key=value slot overrides, e.g.
// "local:priority=1,maxPoolSize=5". No cmd/hal flag feeds ParseOverride.
type overrideDoc struct {
	Name  string          `parser:"@Ident ':'"`
	Pairs []*overridePair `parser:"@@ (',' @@)*"`
}

type overridePair struct {
	Key   string `parser:"@Ident '='"`
	Value string `parser:"@(Ident | Number)"`
}

var overrideLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Number", Pattern: `[0-9]+`},
	{Name: "Punct", Pattern: `[:=,]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var overrideParser = participle.MustBuild[overrideDoc](
	participle.Lexer(overrideLexer),
	participle.Elide("Whitespace"),
)

// ParseOverride parses one "name:key=value,..." clause and applies the
// recognized keys (priority, maxPoolSize, idleTimeoutMs, minReady) onto the
// matching slot in the list. Unknown keys are rejected, not ignored, since
// a silently-ignored typo in a capacity override is exactly the kind of
// mistake this parser exists to catch.
func ParseOverride(list *SlotList, raw string) error {
	doc, err := overrideParser.ParseString("", raw)
	if err != nil {
		return fmt.Errorf("config: invalid slot override %q: %w", raw, err)
	}

	slot, ok := list.Get(doc.Name)
	if !ok {
		return fmt.Errorf("config: slot override for unknown slot %q", doc.Name)
	}

	for _, p := range doc.Pairs {
		n, numErr := strconv.Atoi(p.Value)
		switch p.Key {
		case "priority":
			if numErr != nil {
				return fmt.Errorf("config: slot %q priority must be an integer: %w", doc.Name, numErr)
			}
			slot.Priority = n
		case "maxPoolSize":
			if numErr != nil {
				return fmt.Errorf("config: slot %q maxPoolSize must be an integer: %w", doc.Name, numErr)
			}
			slot.MaxPoolSize = n
		case "idleTimeoutMs":
			if numErr != nil {
				return fmt.Errorf("config: slot %q idleTimeoutMs must be an integer: %w", doc.Name, numErr)
			}
			slot.IdleTimeoutMs = n
		case "minReady":
			if numErr != nil {
				return fmt.Errorf("config: slot %q minReady must be an integer: %w", doc.Name, numErr)
			}
			slot.MinReady = n
		default:
			return fmt.Errorf("config: slot %q has unknown override key %q", doc.Name, p.Key)
		}
	}
	return nil
}
