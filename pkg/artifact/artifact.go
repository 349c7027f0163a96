// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
// Package artifact encodes an accepted manifest into the compact, URL-safe
// string understood by the CodeSandbox define API, and decodes it back.
//
// The wire form is the canonical JSON document {"files": {<path>:
// {"content": <text>}}} compressed with LZ-String (base64 alphabet) and then
// query-escaped. Encoding is deterministic and involves no I/O.
package artifact

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/manifest"
)

// DefaultDefineEndpoint is the CodeSandbox define API.
const DefaultDefineEndpoint = "https://codesandbox.io/api/v1/sandboxes/define"

type document struct {
	Files *manifest.Manifest `json:"files"`
}

// Canonical returns the canonical JSON document for m.
func Canonical(m *manifest.Manifest) ([]byte, error) {
	if m == nil {
		return nil, errors.New(errors.CodeInvalidInput, "nil manifest", nil)
	}
	data, err := json.Marshal(document{Files: m})
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "marshal manifest", err)
	}
	return data, nil
}

// Encode returns the URL-safe artifact string for m.
func Encode(m *manifest.Manifest) (string, error) {
	data, err := Canonical(m)
	if err != nil {
		return "", err
	}
	return url.QueryEscape(compressToBase64(string(data))), nil
}

// Decode parses a string produced by Encode. Decode(Encode(m)) is Equal to m.
func Decode(s string) (*manifest.Manifest, error) {
	compressed, err := url.QueryUnescape(s)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "artifact is not query-escaped", err)
	}
	text, err := decompressFromBase64(compressed)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "artifact is not lz-string data", err)
	}

	var doc struct {
		Files json.RawMessage `json:"files"`
	}
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "artifact payload is not JSON", err)
	}
	if len(doc.Files) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "artifact payload has no files", nil)
	}

	m, err := manifest.NewValidator().Validate(string(doc.Files))
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "artifact files are malformed", err)
	}
	return m, nil
}

// DefineURL returns the GET form of the define API for m; opening it creates
// the sandbox in the browser. An empty endpoint selects DefaultDefineEndpoint.
func DefineURL(endpoint string, m *manifest.Manifest) (string, error) {
	encoded, err := Encode(m)
	if err != nil {
		return "", err
	}
	if endpoint == "" {
		endpoint = DefaultDefineEndpoint
	}
	return fmt.Sprintf("%s?parameters=%s", endpoint, encoded), nil
}
