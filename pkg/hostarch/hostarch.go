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

// Package hostarch describes the x86-64 paging geometry the walker emulates.
package hostarch

const (
	// PageShift is the binary log of the page size.
	PageShift = 12

	// PageSize is the size of a standard page.
	PageSize = 1 << PageShift

	// HugePageShift is the binary log of a PD-level large page.
	HugePageShift = 21

	// HugePageSize is the size of a PD-level large page.
	HugePageSize = 1 << HugePageShift

	// GiantPageShift is the binary log of a PDP-level large page.
	GiantPageShift = 30

	// GiantPageSize is the size of a PDP-level large page.
	GiantPageSize = 1 << GiantPageShift

	// PhysicalAddressBits is the architectural maximum physical address
	// width for 4-level paging.
	PhysicalAddressBits = 52
)
