// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cor (Chain of Responsibility) provides the fundamental building blocks
// for creating workflows. This file defines `BaseContext`, the default
// implementation of the `Context` interface.
//
// The `Context` is the shared state object passed through the entire chain of
// commands for one pipeline run. Each command reads its input from the
// context, performs its work, and writes its results back for subsequent
// commands to use.
//
// This implementation owns the run's scratch space. The workspace directory
// is created when the context is created and removed — with everything in
// it — when Close is called, along with any stray files tracked via
// AddTempFile. This scoped acquire/release is what guarantees that no run
// leaks artifacts across requests, regardless of how the run ends.
package cor

import (
	"context"
	"log/slog"
	"os"
)

// BaseContext is the default implementation of the Context interface. It holds
// the shared state for a single workflow execution.
type BaseContext struct {
	data          map[string]interface{} // Arbitrary key-value data shared between commands.
	errors        map[string]error       // Errors keyed by the command name that produced them.
	workspace     string                 // The run-scoped scratch directory, removed at Close.
	ownsWorkspace bool                   // Whether Close removes the workspace tree.
	tempFiles     []string               // Stray temporary files outside the workspace.
	context       context.Context        // The Go context for cancellation and request-scoped values.
}

// NewBaseContext creates a run context with a fresh workspace directory under
// the operating system's temp dir. The directory name is prefixed so leaked
// workspaces (which should never happen) are at least identifiable.
//
// Outputs:
//   - Context: a new context owning an empty workspace.
//   - error: if the workspace directory could not be created.
func NewBaseContext() (Context, error) {
	dir, err := os.MkdirTemp("", "ad-intel-run-")
	if err != nil {
		return nil, err
	}
	return &BaseContext{
		data:          make(map[string]interface{}),
		errors:        make(map[string]error),
		workspace:     dir,
		ownsWorkspace: true,
		tempFiles:     make([]string, 0),
	}, nil
}

// NewScopedContext creates a child context for a branch of work running
// concurrently with other branches of the same run. The child has its own
// data and error maps, so parallel commands never write to a shared map, but
// it shares the parent's workspace directory. The parent remains the sole
// owner of the workspace; closing a scoped context removes only the stray
// files the branch tracked itself.
func NewScopedContext(parent Context) Context {
	return &BaseContext{
		data:          make(map[string]interface{}),
		errors:        make(map[string]error),
		workspace:     parent.Workspace(),
		ownsWorkspace: false,
		tempFiles:     make([]string, 0),
		context:       parent.GetContext(),
	}
}

// SetContext sets the underlying standard Go context. This is used by the
// BaseChain to manage the context for OpenTelemetry spans and cancellation.
func (c *BaseContext) SetContext(context context.Context) {
	c.context = context
}

// GetContext retrieves the underlying standard Go context.
func (c *BaseContext) GetContext() context.Context {
	return c.context
}

// Workspace returns the run's scratch directory.
func (c *BaseContext) Workspace() string {
	return c.workspace
}

// Close removes the run's workspace tree and every tracked stray file. It is
// safe to call more than once; removal failures are logged, never raised, so
// cleanup on an already-failing run cannot mask the original error.
func (c *BaseContext) Close() {
	if c.workspace != "" && c.ownsWorkspace {
		if err := os.RemoveAll(c.workspace); err != nil {
			slog.Error("failed to remove run workspace", "dir", c.workspace, "error", err)
		}
	}
	for _, file := range c.tempFiles {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			slog.Error("failed to remove temporary file", "file", file, "error", err)
		}
	}
	c.tempFiles = nil
}

// Add stores a key-value pair in the context's data map. It returns the
// Context to allow fluent chaining.
func (c *BaseContext) Add(key string, value interface{}) Context {
	c.data[key] = value
	return c
}

// AddTempFile adds a file path to the list of temporary files that need cleanup.
func (c *BaseContext) AddTempFile(file string) {
	c.tempFiles = append(c.tempFiles, file)
}

// GetTempFiles returns the slice of all tracked temporary file paths.
func (c *BaseContext) GetTempFiles() []string {
	return c.tempFiles
}

// AddError adds an error to the context's error map, keyed by the command name.
func (c *BaseContext) AddError(key string, err error) {
	c.errors[key] = err
}

// GetErrors returns the map of all errors collected during the workflow.
func (c *BaseContext) GetErrors() map[string]error {
	return c.errors
}

// Get retrieves a value from the context's data map by its key.
func (c *BaseContext) Get(key string) interface{} {
	return c.data[key]
}

// Remove deletes a key-value pair from the context's data map.
func (c *BaseContext) Remove(key string) {
	delete(c.data, key)
}

// HasErrors checks if any errors have been added to the context.
func (c *BaseContext) HasErrors() bool {
	return len(c.errors) > 0
}
