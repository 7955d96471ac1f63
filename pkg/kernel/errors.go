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

package kernel

import "errors"

var (
	// ErrInitializationFailed is returned when the kernel execution
	// primitive could not be set up. Nothing else works without it.
	ErrInitializationFailed = errors.New("kernel initialization failed")

	// ErrProcessLookupFailed is returned when a process object could not be
	// found.
	ErrProcessLookupFailed = errors.New("process lookup failed")

	// ErrMappingFailed is returned when physical memory could not be
	// mapped. No copy is attempted.
	ErrMappingFailed = errors.New("mapping physical memory failed")

	// ErrExecutionFailed is returned when a kernel routine could not be
	// resolved or run.
	ErrExecutionFailed = errors.New("kernel execution failed")

	// ErrZeroDirectoryTableBase is returned when a process object holds a
	// zero directory table base.
	ErrZeroDirectoryTableBase = errors.New("directory table base is zero")
)
