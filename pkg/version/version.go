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

// Package version holds build identity, overridable at link time.
package version

var (
	// Version is the semantic version of this build.
	Version = "0.1.0-dev"

	// Commit is the git commit the binary was built from.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)
