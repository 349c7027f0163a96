// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package manifest

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jllopis/artifacts/pkg/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind tags the reason a validation failed.
type Kind string

const (
	// KindMalformed means the text is not a path→{content} object.
	KindMalformed Kind = "MALFORMED"

	// KindMissingRequired means one or more required paths are absent.
	KindMissingRequired Kind = "MISSING_REQUIRED"
)

// ValidationError is returned by Validate. Its message is written to be fed
// back to the generator as-is.
type ValidationError struct {
	Kind    Kind
	Missing []string
	Detail  string
	Err     error
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case KindMissingRequired:
		return fmt.Sprintf("the file set is missing required files: %s. Return every required file with its complete content",
			strings.Join(e.Missing, ", "))
	default:
		return fmt.Sprintf("the reply is not a valid file set (%s). Return a single JSON object mapping each file path to {\"content\": \"<file text>\"}",
			e.Detail)
	}
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Code implements errors.Coder.
func (e *ValidationError) Code() errors.ErrorCode {
	if e.Kind == KindMissingRequired {
		return errors.CodeMissingRequired
	}
	return errors.CodeMalformed
}

// Preset file sets for the sandbox templates the generator can target.
var (
	ReactFiles  = []string{"index.js", "App.js", "App.css", "package.json"}
	StaticFiles = []string{"index.html", "package.json"}
)

// RequiredFor returns the required files of a named template.
func RequiredFor(template string) ([]string, bool) {
	switch strings.ToLower(template) {
	case "", "react":
		return append([]string(nil), ReactFiles...), true
	case "static":
		return append([]string(nil), StaticFiles...), true
	default:
		return nil, false
	}
}

// Validator checks raw completion text against the manifest structure and a
// list of required paths.
type Validator struct {
	required []string
}

// NewValidator returns a Validator enforcing the given paths, in order.
func NewValidator(required ...string) *Validator {
	return &Validator{required: append([]string(nil), required...)}
}

// Required returns the enforced paths.
func (v *Validator) Required() []string {
	return append([]string(nil), v.required...)
}

var fenceOpenRe = regexp.MustCompile("```[A-Za-z0-9_-]*[ \t]*\r?\n")

// Validate parses raw into a Manifest. It accepts the bare
// {"<path>": {"content": ...}} object, the same object inside a
// {"files": ...} envelope, and either of them wrapped in a markdown code
// fence. Key order is preserved; with duplicate paths the last one wins.
// Parse errors are reported with the decoder's message and offset.
func (v *Validator) Validate(raw string) (*Manifest, error) {
	data := bytes.TrimSpace([]byte(raw))
	if !json.Valid(data) {
		data = bytes.TrimSpace([]byte(stripFence(raw)))
	}
	if len(data) == 0 {
		return nil, &ValidationError{Kind: KindMalformed, Detail: "empty reply"}
	}
	if err := syntaxError(data); err != nil {
		return nil, err
	}
	if data[0] != '{' {
		return nil, &ValidationError{Kind: KindMalformed, Detail: "not a JSON object"}
	}

	entries := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(data, entries); err != nil {
		return nil, &ValidationError{Kind: KindMalformed, Detail: "not a JSON object", Err: err}
	}
	if inner, ok := envelope(entries); ok {
		entries = inner
	}

	b := NewBuilder()
	for pair := entries.Oldest(); pair != nil; pair = pair.Next() {
		if strings.TrimSpace(pair.Key) == "" {
			return nil, &ValidationError{Kind: KindMalformed, Detail: "empty file path"}
		}
		content, err := fileContent(pair.Value)
		if err != nil {
			return nil, &ValidationError{
				Kind:   KindMalformed,
				Detail: fmt.Sprintf("%q: %v", pair.Key, err),
				Err:    err,
			}
		}
		b.Add(pair.Key, content)
	}
	m := b.Build()

	var missing []string
	for _, path := range v.required {
		if !m.Has(path) {
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Kind: KindMissingRequired, Missing: missing}
	}
	return m, nil
}

// stripFence returns the body between the first opening fence and the last
// closing fence, so fences inside file contents stay in the body.
func stripFence(raw string) string {
	loc := fenceOpenRe.FindStringIndex(raw)
	if loc == nil {
		return raw
	}
	body := raw[loc[1]:]
	end := strings.LastIndex(body, "```")
	if end < 0 {
		return body
	}
	return body[:end]
}

// syntaxError reports why data is not valid JSON, or nil when it is.
func syntaxError(data []byte) *ValidationError {
	var doc any
	err := json.Unmarshal(data, &doc)
	if err == nil {
		return nil
	}
	detail := "invalid JSON: " + err.Error()
	var se *json.SyntaxError
	if stderrors.As(err, &se) {
		detail = fmt.Sprintf("invalid JSON at offset %d: %v", se.Offset, se)
	}
	return &ValidationError{Kind: KindMalformed, Detail: detail, Err: err}
}

// envelope unwraps {"files": {...}} when "files" is the only key and is not
// itself a file entry.
func envelope(entries *orderedmap.OrderedMap[string, json.RawMessage]) (*orderedmap.OrderedMap[string, json.RawMessage], bool) {
	if entries.Len() != 1 {
		return nil, false
	}
	value, ok := entries.Get("files")
	if !ok {
		return nil, false
	}
	if _, err := fileContent(value); err == nil {
		return nil, false
	}
	inner := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(value, inner); err != nil {
		return nil, false
	}
	return inner, true
}

func fileContent(value json.RawMessage) (string, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 || value[0] != '{' {
		return "", fmt.Errorf("value is not an object")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(value, &fields); err != nil {
		return "", fmt.Errorf("value is not an object")
	}
	rawContent, ok := fields["content"]
	if !ok {
		return "", fmt.Errorf("missing \"content\"")
	}
	var content string
	if bytes.Equal(bytes.TrimSpace(rawContent), []byte("null")) {
		return "", fmt.Errorf("\"content\" is null")
	}
	if err := json.Unmarshal(rawContent, &content); err != nil {
		return "", fmt.Errorf("\"content\" is not a string")
	}
	return content, nil
}
