// Copyright 2025 The Steward Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tool

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateArgs checks an argument map against the descriptor's input
// schema. A nil schema accepts anything (some servers omit schemas).
// Runs at dispatch time so planner mistakes fail before the wire.
func ValidateArgs(desc Descriptor, args map[string]any) error {
	if len(desc.InputSchema) == 0 {
		return nil
	}

	raw, err := json.Marshal(desc.InputSchema)
	if err != nil {
		return fmt.Errorf("tool %s: unmarshalable input schema: %w", desc.Name, err)
	}

	schema, err := jsonschema.CompileString(desc.Name+".schema.json", string(raw))
	if err != nil {
		// An invalid advertised schema is the server's bug; do not
		// block the call on it.
		return nil
	}

	// Round-trip through JSON so numeric types match what the
	// validator expects.
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("tool %s: unmarshalable arguments: %w", desc.Name, err)
	}
	var decoded any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return fmt.Errorf("tool %s: decoding arguments: %w", desc.Name, err)
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("tool %s: invalid arguments: %w", desc.Name, err)
	}
	return nil
}
