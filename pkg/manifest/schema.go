// Copyright 2026 © The Artifacts Authors
// SPDX-License-Identifier: Apache-2.0
package manifest

import (
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ToolName is the function name under which completion services are asked
// to return a manifest.
const ToolName = "create_files"

// Schema returns the JSON Schema of a manifest that must contain the given
// paths. It is offered to the completion service as the parameters of the
// file-creation function so that replies arrive as structured arguments.
func Schema(required []string) *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	file := r.Reflect(&File{})
	file.Version = ""
	file.ID = ""

	props := orderedmap.New[string, *jsonschema.Schema]()
	for _, path := range required {
		props.Set(path, file)
	}

	return &jsonschema.Schema{
		Type:                 "object",
		Description:          "Files of the project keyed by relative path",
		Properties:           props,
		Required:             append([]string(nil), required...),
		AdditionalProperties: file,
	}
}
