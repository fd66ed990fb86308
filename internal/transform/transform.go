// Package transform turns raw artifact content into sync payloads: scripts are
// transpiled with esbuild (plus a goja-parsed rewrite pass for es5) and
// documents are parsed and stamped.
package transform

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/tidwall/jsonc"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const strictDirective = `"use strict";`

var targets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// Targets returns the accepted transpile target names.
func Targets() []string {
	out := make([]string, 0, len(targets))
	for name := range targets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ErrNotAnnotatable is returned for documents whose top-level value cannot
// carry an uptime field (strings, numbers, booleans, null).
var ErrNotAnnotatable = errors.New("document is not an object or array")

// ScriptError reports a failed script transpilation.
type ScriptError struct {
	File     string
	Messages []string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("transform: %s: %s", e.File, strings.Join(e.Messages, "; "))
}

// Options configures a Transformer.
type Options struct {
	Target        string // one of Targets(); empty means es5
	AllowComments bool   // accept JSONC in documents
}

// Transformer holds the fixed transpile pipeline settings.
type Transformer struct {
	target        api.Target
	allowComments bool
}

// New builds a Transformer from opts.
func New(opts Options) (*Transformer, error) {
	name := strings.ToLower(opts.Target)
	if name == "" {
		name = "es5"
	}
	target, ok := targets[name]
	if !ok {
		return nil, fmt.Errorf("transform: unknown target %q", opts.Target)
	}
	return &Transformer{target: target, allowComments: opts.AllowComments}, nil
}

// Script transpiles JavaScript source for the configured target. Object
// rest/spread is lowered whenever the target predates it, and the output
// always starts with a "use strict" directive. For es5 the source is first
// compiled to es2015, then the for-of loops, block bindings, destructuring,
// parameter and spread syntax left over are rewritten before the final
// es5 pass.
func (t *Transformer) Script(file, source string) (string, error) {
	if t.target != api.ES5 {
		code, err := esbuild(file, source, t.target)
		if err != nil {
			return "", err
		}
		return withStrict(code), nil
	}

	code, err := esbuild(file, source, api.ES2015)
	if err != nil {
		return "", err
	}
	if code, err = lowerES5(file, code); err != nil {
		return "", err
	}
	if code, err = esbuild(file, code, api.ES5); err != nil {
		return "", err
	}
	return withStrict(code), nil
}

func esbuild(file, source string, target api.Target) (string, error) {
	result := api.Transform(source, api.TransformOptions{
		Loader:     api.LoaderJS,
		Target:     target,
		Sourcefile: file,
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, m := range result.Errors {
			if m.Location != nil {
				msgs = append(msgs, fmt.Sprintf("%d:%d: %s", m.Location.Line, m.Location.Column, m.Text))
				continue
			}
			msgs = append(msgs, m.Text)
		}
		return "", &ScriptError{File: file, Messages: msgs}
	}
	return string(result.Code), nil
}

func withStrict(code string) string {
	if hasStrictDirective(code) {
		return code
	}
	return strictDirective + "\n" + code
}

func hasStrictDirective(code string) bool {
	trimmed := strings.TrimLeft(code, " \t\r\n")
	return strings.HasPrefix(trimmed, `"use strict"`) || strings.HasPrefix(trimmed, `'use strict'`)
}

// Document parses raw as a single JSON value. Objects get an uptime field set
// (overwritten in place, or appended after the existing keys); arrays are
// returned untouched. Object key order is preserved at every level.
func (t *Transformer) Document(raw string, uptime int64) (any, error) {
	data := []byte(raw)
	if t.allowComments {
		data = jsonc.ToJSON(data)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("transform: parse document: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("transform: parse document: unexpected data after top-level value")
	}

	switch doc := v.(type) {
	case *orderedmap.OrderedMap[string, any]:
		doc.Set("uptime", uptime)
		return doc, nil
	case []any:
		return doc, nil
	default:
		return nil, ErrNotAnnotatable
	}
}

// decodeValue reads one JSON value from dec. Objects decode to ordered maps,
// numbers stay json.Number.
func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}

	switch delim {
	case '{':
		obj := orderedmap.New[string, any]()
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("object key %v is not a string", keyTok)
			}
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			obj.Set(key, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		arr := []any{}
		for dec.More() {
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	}
	return nil, fmt.Errorf("unexpected %v", delim)
}
