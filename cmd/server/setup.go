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

// Package main contains the setup and initialization logic for the
// application's state. This file creates and manages a centralized state
// manager holding the shared dependencies: the configuration, the run
// registry, and the runner.
//
// Functions:
//   - SetupOS: Configures the environment variables the configuration
//     loader uses to find the TOML files.
//   - GetConfig: A singleton function that loads the application's
//     configuration from TOML files, ensuring it is loaded only once.
//   - InitState: Creates the run registry and the runner with the
//     production workflow factory.
package main

import (
	"context"
	"log"
	"os"

	"github.com/viscap/video-ad-intelligence/internal/ai"
	"github.com/viscap/video-ad-intelligence/internal/runs"
)

// StateManager holds all the shared dependencies for the application,
// acting as a centralized container. This avoids global variables scattered
// across files and makes dependency management cleaner.
type StateManager struct {
	config   *ai.Config
	registry *runs.Registry
	runner   *runs.Runner
}

// state is a package-level variable that holds the single instance of
// StateManager.
var state = &StateManager{}

// SetupOS sets the environment variables that the configuration loader uses
// to find the correct TOML files: the config directory prefix and the
// runtime environment (e.g., "local", "test", "prod"), which selects the
// override file.
//
// Outputs:
//   - error: An error if setting any of the environment variables fails.
func SetupOS() (err error) {
	err = os.Setenv(ai.EnvConfigFilePrefix, "configs")
	if err != nil {
		return err
	}
	// Only default the runtime; an operator-provided value wins.
	if os.Getenv(ai.EnvConfigRuntime) == "" {
		err = os.Setenv(ai.EnvConfigRuntime, "local")
	}
	return err
}

// GetConfig provides a singleton instance of the application configuration.
// On the first call it sets up the OS environment and loads the TOML files;
// subsequent calls return the cached configuration.
//
// Outputs:
//   - *ai.Config: A pointer to the loaded application configuration struct.
func GetConfig() *ai.Config {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup os environment: %v\n", err)
		}
		config := ai.NewConfig()
		ai.LoadConfig(config)
		state.config = config
	}
	return state.config
}

// InitState initializes the application state: the in-memory run registry
// and the runner wired with the production workflow factory. Runs launched
// by the runner are children of ctx, so cancelling it on shutdown cancels
// every analysis in flight.
//
// Inputs:
//   - ctx: The root context.Context for the application.
func InitState(ctx context.Context) {
	config := GetConfig()
	state.registry = runs.NewRegistry()
	state.runner = runs.NewRunner(ctx, config, state.registry, runs.NewProductionWorkflowFactory())
}
