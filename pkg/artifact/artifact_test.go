// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package artifact

import (
	"math/rand"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/manifest"
)

func reactManifest() *manifest.Manifest {
	return manifest.NewBuilder().
		Add("index.js", "import React from 'react';\nimport ReactDOM from 'react-dom';\nimport App from './App';\n\nReactDOM.render(<App />, document.getElementById('root'));\n").
		Add("App.js", "import './App.css';\n\nexport default function App() {\n  return <h1>Hello, World!</h1>;\n}\n").
		Add("App.css", ".App main {\n  padding: 20px;\n}\n").
		Add("package.json", `{"name":"complex-react-app","dependencies":{"react":"^18.0.0","react-dom":"^18.0.0","react-scripts":"^5.0.0"}}`).
		Build()
}

// Outputs of lz-string's compressToBase64 in node; the define API decodes
// with that library.
func TestLZStringKnownValues(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "Q==="},
		{"single char", "a", "IZA="},
		{"ascii", "Hello, world", "BIUwNmD2A0AEDukBOYAmQ==="},
		{"repetitive", "abcabcabcabcabcabcabcabcabc", "IYIwxqHpPXViA==="},
		{"latin1", "café naïve façade", "MYQwZglwBAdiD3A3AplMIDnIAmyg"},
		{"bmp", "日本語のテキスト", "qemhpzR5UYdgyGMMi1DInQyAmGIA"},
		{"surrogate pair", "😀", "rwbgA9o="},
		{"repeated surrogates", "a😀b😀", "IaXg3AB7BG5A"},
		{"emoji", "rocket 🚀 and 👍🏽 emoji", "E4ewxg1gpgLgBIXg3ABe3AhgOwCaMLI7geDcF/9uKAWxACsBLIA="},
		{"document", `{"files":{"a.js":{"content":"1"}}}`, "N4IgZglgNgpgziAXKAhgOgFYOSAxgewDsAXGEpEARhAF86g="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := compressToBase64(tt.input); got != tt.want {
				t.Errorf("compressToBase64(%q) = %q, want %q", tt.input, got, tt.want)
			}
			got, err := decompressFromBase64(tt.want)
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if got != tt.input {
				t.Errorf("decompressFromBase64(%q) = %q, want %q", tt.want, got, tt.input)
			}
		})
	}
}

const reactDocument = `{"files":{"index.js":{"content":"import React from 'react';\nimport ReactDOM from 'react-dom';\nimport App from './App';\n\nReactDOM.render(\u003cApp /\u003e, document.getElementById('root'));\n"},"App.js":{"content":"import './App.css';\n\nexport default function App() {\n  return \u003ch1\u003eHello, World!\u003c/h1\u003e;\n}\n"},"App.css":{"content":".App main {\n  padding: 20px;\n}\n"},"package.json":{"content":"{\"name\":\"complex-react-app\",\"dependencies\":{\"react\":\"^18.0.0\",\"react-dom\":\"^18.0.0\",\"react-scripts\":\"^5.0.0\"}}"}}}`

const reactDocumentLZ = "N4IgZglgNgpgziAXKCA7AJjAHgOgFYLIgDGA9qgC4yVIgQC2ADqQE4UAEASjAIbEdgWpeuwDkLXv1EBuADqoGzNl0kUAIgHkAsu0HCxEvhQC06YTPmLWHAIKNGuoSNE4A9HcYXU87kc1acCQwYFgAKWQBXAAYogGZiD3ZXSJjYmAAadjNiCPpqChwAcxgKAFFYPMoAIQBPAEl0UPFSUgpRAEp2uVQQAF90kA98QlAySnzaK2UXd3scYjg4L3lsJQ5MMB4IqAEI1H4IcnYPUPb2YHl2dgkKCJZUdhS44gALAEYntIAJGCgoUkyAHVWFB0ABCT7EVzvT4wbq9eR9AZDBYjEjkKg0RAgHCJeg8NDnS7sRg8dDoNCFRDsABMUUYWHhiP6IFJxAA1jxisNyEhRhiJtiLiBUDw8rIkBKyExYFhjIZ+MYePYJekJZhGNRMPsIPAJcgJQqKPqJQA9N4ADhwUWtqsNqlMwhNIHNVptUTtICNxjgxBYEEYFDgztNAFZrba+r0o70gA"

func TestReactDocumentKnownValue(t *testing.T) {
	data, err := Canonical(reactManifest())
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	if string(data) != reactDocument {
		t.Fatalf("unexpected canonical document:\n%s", data)
	}
	if got := compressToBase64(string(data)); got != reactDocumentLZ {
		t.Errorf("unexpected compression:\nwant %s\n got %s", reactDocumentLZ, got)
	}
	encoded, err := Encode(reactManifest())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if encoded != url.QueryEscape(reactDocumentLZ) {
		t.Errorf("Encode does not query-escape the compressed document")
	}
}

func TestLZStringRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"single char", "a"},
		{"ascii", "Hello, world"},
		{"repetitive", strings.Repeat("abcabcabd", 500)},
		{"latin1", "café naïve façade"},
		{"bmp", "日本語のテキスト"},
		{"surrogates", "rocket 🚀 and 👍🏽 emoji"},
		{"json", `{"files":{"a.js":{"content":"x\ny"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed := compressToBase64(tt.input)
			if len(compressed)%4 != 0 {
				t.Errorf("expected padded output, got length %d", len(compressed))
			}
			got, err := decompressFromBase64(compressed)
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if got != tt.input {
				t.Errorf("round trip mismatch:\nwant %q\n got %q", tt.input, got)
			}
		})
	}
}

func TestLZStringRandomRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("abcdefghij {}\":,\n<>/áé€日🚀")
	for i := 0; i < 200; i++ {
		n := rng.Intn(2000)
		var sb strings.Builder
		for j := 0; j < n; j++ {
			sb.WriteRune(alphabet[rng.Intn(len(alphabet))])
		}
		input := sb.String()

		got, err := decompressFromBase64(compressToBase64(input))
		if err != nil {
			t.Fatalf("case %d: decompress: %v", i, err)
		}
		if got != input {
			t.Fatalf("case %d: round trip mismatch", i)
		}
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	for _, input := range []string{"not base64!", "AAAA*"} {
		if _, err := decompressFromBase64(input); err == nil {
			t.Errorf("expected error for %q", input)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		m    *manifest.Manifest
	}{
		{"react app", reactManifest()},
		{"empty content", manifest.NewBuilder().Add("App.css", "").Add("index.js", "x").Build()},
		{"unicode paths", manifest.NewBuilder().Add("src/ñandú.js", "// 🚀").Add("páginas/índice.html", "<p>¡Hola!</p>").Build()},
		{"html escapes", manifest.NewBuilder().Add("index.html", `<script>if (a < b && c > d) alert("&amp;")</script>`).Build()},
		{"no files", manifest.NewBuilder().Build()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.m)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if strings.ContainsAny(encoded, "+/= ") {
				t.Errorf("encoded artifact is not URL safe: %s", encoded)
			}

			decoded, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !tt.m.Equal(decoded) {
				t.Errorf("round trip changed manifest:\nwant %s\n got %s", tt.m, decoded)
			}
			if diff := cmp.Diff(tt.m.Paths(), decoded.Paths()); diff != "" {
				t.Errorf("order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	a, err := Encode(reactManifest())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := Encode(reactManifest())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if a != b {
		t.Errorf("expected identical encodings")
	}
}

func TestCanonicalShape(t *testing.T) {
	data, err := Canonical(manifest.NewBuilder().Add("a.js", "1").Build())
	if err != nil {
		t.Fatalf("Canonical: %v", err)
	}
	if want := `{"files":{"a.js":{"content":"1"}}}`; string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}
}

func TestEncodeNil(t *testing.T) {
	if _, err := Encode(nil); errors.CodeOf(err) != errors.CodeInvalidInput {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

func TestDecodeErrors(t *testing.T) {
	notJSON := url.QueryEscape(compressToBase64("plain text"))
	noFiles := url.QueryEscape(compressToBase64(`{"other": 1}`))

	for name, input := range map[string]string{
		"bad escape": "%zz",
		"bad base64": "!!!!",
		"not json":   notJSON,
		"no files":   noFiles,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(input); errors.CodeOf(err) != errors.CodeInvalidInput {
				t.Errorf("expected INVALID_INPUT, got %v", err)
			}
		})
	}
}

func TestDefineURL(t *testing.T) {
	got, err := DefineURL("", reactManifest())
	if err != nil {
		t.Fatalf("DefineURL: %v", err)
	}
	if !strings.HasPrefix(got, DefaultDefineEndpoint+"?parameters=") {
		t.Errorf("unexpected define URL %s", got)
	}

	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	m, err := Decode(url.QueryEscape(u.Query().Get("parameters")))
	if err != nil {
		t.Fatalf("Decode from URL: %v", err)
	}
	if !m.Equal(reactManifest()) {
		t.Errorf("define URL does not carry the manifest")
	}
}
