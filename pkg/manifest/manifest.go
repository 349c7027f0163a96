// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
// Package manifest holds the ordered path→content file set produced by the
// generator and the validator that turns raw completion text into one.
//
// A Manifest is immutable: it is created by a Builder or by Validate and has
// no mutating methods, so it can be shared between concurrent judges.
package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// File is the value stored for every path.
type File struct {
	Content string `json:"content" jsonschema:"description=Complete text of the file"`
}

// Manifest is an ordered mapping from relative file path to file content.
type Manifest struct {
	files *orderedmap.OrderedMap[string, File]
}

// Len returns the number of files.
func (m *Manifest) Len() int {
	if m == nil || m.files == nil {
		return 0
	}
	return m.files.Len()
}

// Paths returns the file paths in manifest order.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, m.Len())
	if m.Len() == 0 {
		return paths
	}
	for pair := m.files.Oldest(); pair != nil; pair = pair.Next() {
		paths = append(paths, pair.Key)
	}
	return paths
}

// Get returns the content stored at path.
func (m *Manifest) Get(path string) (string, bool) {
	if m.Len() == 0 {
		return "", false
	}
	f, ok := m.files.Get(path)
	return f.Content, ok
}

// Has reports whether path is present.
func (m *Manifest) Has(path string) bool {
	_, ok := m.Get(path)
	return ok
}

// Each calls fn for every file in order.
func (m *Manifest) Each(fn func(path, content string)) {
	if m.Len() == 0 {
		return
	}
	for pair := m.files.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value.Content)
	}
}

// Equal reports whether both manifests hold the same files in the same order.
func (m *Manifest) Equal(o *Manifest) bool {
	if m.Len() != o.Len() {
		return false
	}
	if m.Len() == 0 {
		return true
	}
	a, b := m.files.Oldest(), o.files.Oldest()
	for ; a != nil && b != nil; a, b = a.Next(), b.Next() {
		if a.Key != b.Key || a.Value != b.Value {
			return false
		}
	}
	return a == nil && b == nil
}

// MarshalJSON writes {"<path>": {"content": "..."}, ...} in manifest order.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	if m.Len() == 0 {
		return []byte("{}"), nil
	}
	return m.files.MarshalJSON()
}

// Digest is the hex sha256 of the canonical JSON form. Two manifests with the
// same digest are Equal.
func (m *Manifest) Digest() string {
	data, err := m.MarshalJSON()
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// String renders the manifest as indented JSON.
func (m *Manifest) String() string {
	data, err := m.MarshalJSON()
	if err != nil {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return string(data)
	}
	return buf.String()
}

// Builder assembles a Manifest. Adding an existing path replaces its content
// and keeps its original position.
type Builder struct {
	files *orderedmap.OrderedMap[string, File]
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{files: orderedmap.New[string, File]()}
}

// From starts a Builder with a copy of m.
func From(m *Manifest) *Builder {
	b := NewBuilder()
	m.Each(func(path, content string) {
		b.Add(path, content)
	})
	return b
}

// Add sets the content of path.
func (b *Builder) Add(path, content string) *Builder {
	b.files.Set(path, File{Content: content})
	return b
}

// Build returns a Manifest detached from the Builder.
func (b *Builder) Build() *Manifest {
	files := orderedmap.New[string, File](b.files.Len())
	for pair := b.files.Oldest(); pair != nil; pair = pair.Next() {
		files.Set(pair.Key, pair.Value)
	}
	return &Manifest{files: files}
}
