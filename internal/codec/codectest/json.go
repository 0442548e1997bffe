// Package codectest has a codec whose wire format is plain json, so tests can
// write frames by hand.
package codectest

import (
	"errors"
	"fmt"

	"hashdive-scraper/lib/jsonutil"
)

var ErrInjected = errors.New("injected codec failure")

type Codec struct {
	// FailEncode makes every Encode call fail.
	FailEncode bool
}

func (c Codec) Decode(data []byte, schema string) (map[string]any, error) {
	tree := map[string]any{}
	err := jsonutil.Unmarshal(data, &tree)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", schema, err)
	}
	return tree, nil
}

func (c Codec) Encode(tree map[string]any, schema string) ([]byte, error) {
	if c.FailEncode {
		return nil, ErrInjected
	}
	return jsonutil.Marshal(tree)
}

// Frame marshals a tree into a binary frame payload, it panics on failure.
func Frame(tree map[string]any) []byte {
	data, err := jsonutil.Marshal(tree)
	if err != nil {
		panic(err)
	}
	return data
}

// Markdown builds a forward message carrying a single markdown element.
func Markdown(body string) []byte {
	return Element("markdown", map[string]any{"body": body})
}

// Element builds a forward message carrying a single element of the given kind.
func Element(kind string, element map[string]any) []byte {
	return Frame(map[string]any{
		"delta": map[string]any{
			"newElement": map[string]any{kind: element},
		},
	})
}

func Finished() []byte {
	return Frame(map[string]any{"scriptFinished": "FINISHED_SUCCESSFULLY"})
}
