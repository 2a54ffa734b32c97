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

// Package builtin provides the local tools: file reading and writing
// and shell execution. Their invocation is indistinguishable from
// remote tools: same descriptor shape, same chunk stream.
package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/invopop/jsonschema"

	"github.com/stewardai/steward/pkg/tool"
)

// Register adds all built-in tools to a registry.
func Register(reg *tool.Registry) error {
	for _, t := range []tool.Tool{
		NewFileRead(),
		NewFileWrite(),
		NewShellExec(),
	} {
		if err := reg.Register(t); err != nil {
			return fmt.Errorf("registering built-in: %w", err)
		}
	}
	return nil
}

// schemaOf derives a JSON schema map from an argument struct via
// reflection, keeping built-in descriptors in the same shape servers
// advertise.
func schemaOf(v any) map[string]any {
	reflector := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}
	schema := reflector.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	// The $schema marker is noise next to server-advertised schemas.
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// decodeArgs fills a typed argument struct from the raw args map,
// coercing compatible scalar types the way server-side tools do.
func decodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(args)
}
