// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package repair

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/artifacts/pkg/errors"
	"github.com/jllopis/artifacts/pkg/llm"
	"github.com/jllopis/artifacts/pkg/manifest"
)

func broken() *manifest.Manifest {
	return manifest.NewBuilder().
		Add("index.js", "import App from './App';").
		Add("App.js", "import Header from './Header';\nexport default () => <Header />;").
		Build()
}

const fixedReply = `{"index.js": {"content": "import App from './App';"}, "App.js": {"content": "export default () => <h1>Hi</h1>;"}}`

func TestRepair(t *testing.T) {
	var got llm.CompletionRequest
	c := llm.CompleterFunc(func(_ context.Context, req llm.CompletionRequest) (string, error) {
		got = req
		return fixedReply, nil
	})

	e := NewEngine(c, manifest.NewValidator("index.js", "App.js"))
	fixed, err := e.Repair(context.Background(), broken(), "Module not found: ./Header")
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if content, _ := fixed.Get("App.js"); !strings.Contains(content, "<h1>Hi</h1>") {
		t.Errorf("expected replacement manifest, got %s", fixed)
	}

	for _, w := range []string{"Module not found: ./Header", "File: index.js", "File: App.js", "import Header"} {
		if !strings.Contains(got.User, w) {
			t.Errorf("repair request must carry %q:\n%s", w, got.User)
		}
	}
	if got.Schema == nil || got.Schema.Name != "create_files" {
		t.Errorf("expected structured output schema")
	}
}

func TestRepairFailures(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		err      error
		timeout  time.Duration
		wantKind Kind
		wantCode errors.ErrorCode
	}{
		{name: "empty reply", reply: "  \n", wantKind: KindEmptyResponse, wantCode: errors.CodeEmptyResponse},
		{name: "prose", reply: "Sorry, I cannot fix this.", wantKind: KindMalformed, wantCode: errors.CodeMalformed},
		{name: "missing file", reply: `{"index.js": {"content": "x"}}`, wantKind: KindMalformed, wantCode: errors.CodeMalformed},
		{name: "timeout", timeout: 10 * time.Millisecond, wantKind: KindEmptyResponse, wantCode: errors.CodeEmptyResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := llm.CompleterFunc(func(ctx context.Context, _ llm.CompletionRequest) (string, error) {
				if tt.timeout > 0 {
					<-ctx.Done()
					return "", ctx.Err()
				}
				return tt.reply, tt.err
			})

			opts := []Option{}
			if tt.timeout > 0 {
				opts = append(opts, WithCallTimeout(tt.timeout))
			}
			_, err := NewEngine(c, manifest.NewValidator("index.js", "App.js"), opts...).
				Repair(context.Background(), broken(), "fix it")

			var gerr *GenerationError
			if !stderrors.As(err, &gerr) {
				t.Fatalf("expected GenerationError, got %v", err)
			}
			if gerr.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", gerr.Kind, tt.wantKind)
			}
			if errors.CodeOf(err) != tt.wantCode {
				t.Errorf("code = %s, want %s", errors.CodeOf(err), tt.wantCode)
			}
		})
	}
}

func TestRepairMalformedKeepsValidatorFeedback(t *testing.T) {
	c := llm.CompleterFunc(func(context.Context, llm.CompletionRequest) (string, error) {
		return `{"index.js": {"content": "x"}}`, nil
	})
	_, err := NewEngine(c, manifest.NewValidator("index.js", "App.js")).Repair(context.Background(), broken(), "fix")

	var verr *manifest.ValidationError
	if !stderrors.As(err, &verr) {
		t.Fatalf("expected wrapped ValidationError, got %v", err)
	}
	if !strings.Contains(err.Error(), "App.js") {
		t.Errorf("feedback should name the missing file: %v", err)
	}
}

func TestRepairTransportFailureIsReturned(t *testing.T) {
	transport := errors.New(errors.CodeLLMError, "connection refused", nil)
	c := llm.CompleterFunc(func(context.Context, llm.CompletionRequest) (string, error) {
		return "", transport
	})

	_, err := NewEngine(c, manifest.NewValidator()).Repair(context.Background(), broken(), "fix")
	if !stderrors.Is(err, transport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	var gerr *GenerationError
	if stderrors.As(err, &gerr) {
		t.Errorf("transport failures must not look like generation errors")
	}
}

func TestRepairNilManifest(t *testing.T) {
	_, err := NewEngine(llm.CompleterFunc(nil), manifest.NewValidator()).Repair(context.Background(), nil, "fix")
	if errors.CodeOf(err) != errors.CodeInvalidInput {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}
