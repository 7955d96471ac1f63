// Copyright 2026 The gVisor Authors.
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

// Package config provides basic infrastructure to set configuration settings
// for vtop. Each setting that can be changed from the command line must have
// a corresponding flag, registered with RegisterFlags.
package config

import (
	"fmt"
	"math"

	"gvisor.dev/vtop/pkg/log"
	"gvisor.dev/vtop/pkg/pagetables"
)

// Config holds configuration that is not part of a single command.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name.
//  3. Register a new flag in flags.go, with the same name and add a
//     description.
//  4. Add any necessary validation into validate().
type Config struct {
	// Platform is the platform used to reach the kernel.
	Platform string `flag:"platform"`

	// Manifest is the platform-specific description of the target. For the
	// emulated platform, it is a TOML machine description.
	Manifest string `flag:"manifest"`

	// Layouts is the path of a TOML kernel structure layout table. If
	// empty, the built-in table is used.
	Layouts string `flag:"layouts"`

	// KernelBuild selects the layout for the given kernel build. Zero uses
	// the build reported by the platform.
	KernelBuild uint `flag:"kernel-build"`

	// Image and Export name the user-mode export used to enter the kernel.
	Image  string `flag:"image"`
	Export string `flag:"export"`

	// Presence selects how page-table entries are judged present.
	Presence pagetables.Presence `flag:"presence"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// LogFilename is the filename to log errors to.
	LogFilename string `flag:"log"`

	// LogFormat is the log format.
	LogFormat string `flag:"log-format"`

	// DebugLog is the path to log debug information to, if not empty. The
	// %TIMESTAMP% and %COMMAND% variables are expanded.
	DebugLog string `flag:"debug-log"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// Jobs is the number of translations run concurrently.
	Jobs int `flag:"jobs"`
}

func (c *Config) validate() error {
	if c.Platform == "" {
		return fmt.Errorf("--platform must be set")
	}
	if c.Image == "" || c.Export == "" {
		return fmt.Errorf("--image and --export must be set")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if c.Jobs < 1 {
		return fmt.Errorf("--jobs must be at least 1, got %d", c.Jobs)
	}
	if uint64(c.KernelBuild) > math.MaxUint32 {
		return fmt.Errorf("--kernel-build %d is out of range", c.KernelBuild)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config.Platform: %v", c.Platform)
	log.Infof("Config.Manifest: %v", c.Manifest)
	log.Infof("Config.Layouts: %v", c.Layouts)
	log.Infof("Config.KernelBuild: %v", c.KernelBuild)
	log.Infof("Config.Entry: %s!%s", c.Image, c.Export)
	log.Infof("Config.Presence: %v", c.Presence)
	log.Infof("Config.Debug: %v", c.Debug)
	log.Infof("Config.Jobs: %v", c.Jobs)
}
