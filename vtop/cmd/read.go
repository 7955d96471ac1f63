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

package cmd

import (
	"context"
	"encoding/hex"
	"os"
	"strconv"

	"github.com/google/subcommands"
	"gvisor.dev/vtop/pkg/hostarch"
	"gvisor.dev/vtop/vtop/cmd/util"
	"gvisor.dev/vtop/vtop/config"
	"gvisor.dev/vtop/vtop/flag"
)

// maxReadSize bounds a single read command.
const maxReadSize = 1 << 20

// Read implements subcommands.Command for the "read" command.
type Read struct{}

// Name implements subcommands.Command.Name.
func (*Read) Name() string {
	return "read"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Read) Synopsis() string {
	return "dump physical memory"
}

// Usage implements subcommands.Command.Usage.
func (*Read) Usage() string {
	return `read <physical address> [size] - hex dump physical memory, 64 bytes by default.

The address is hexadecimal; the size is decimal or 0x-prefixed hexadecimal.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Read) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Read) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 || f.NArg() > 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	pa, err := parseAddress(f.Arg(0))
	if err != nil {
		util.Fatalf("%v", err)
	}
	size := uint64(64)
	if f.NArg() == 2 {
		size, err = strconv.ParseUint(f.Arg(1), 0, 64)
		if err != nil {
			util.Fatalf("invalid size %q: %v", f.Arg(1), err)
		}
	}
	if size == 0 || size > maxReadSize {
		util.Fatalf("size must be between 1 and %d bytes, got %d", maxReadSize, size)
	}

	k, p, err := attach(conf)
	if err != nil {
		util.Fatalf("%v", err)
	}
	defer p.Close()

	buf := make([]byte, size)
	if err := k.ReadPhysical(hostarch.PhysAddr(pa), buf); err != nil {
		return util.Errorf("%v", err)
	}
	d := hex.Dumper(os.Stdout)
	d.Write(buf)
	d.Close()
	return subcommands.ExitSuccess
}
