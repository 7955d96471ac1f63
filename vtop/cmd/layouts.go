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
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gvisor.dev/vtop/pkg/abi/nt"
	"gvisor.dev/vtop/pkg/platform"
	"gvisor.dev/vtop/vtop/cmd/util"
	"gvisor.dev/vtop/vtop/config"
	"gvisor.dev/vtop/vtop/flag"
)

// Layouts implements subcommands.Command for the "layouts" command.
type Layouts struct{}

// Name implements subcommands.Command.Name.
func (*Layouts) Name() string {
	return "layouts"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layouts) Synopsis() string {
	return "list kernel structure layouts"
}

// Usage implements subcommands.Command.Usage.
func (*Layouts) Usage() string {
	return `layouts - list the process layouts in the table selected by --layouts.

The layout used for --kernel-build, if set, is marked with '*'.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Layouts) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Layouts) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	layouts, err := nt.Get(conf.Layouts)
	if err != nil {
		return util.Errorf("%v", err)
	}
	printLayouts(os.Stdout, layouts, uint32(conf.KernelBuild))
	return subcommands.ExitSuccess
}

func printLayouts(out io.Writer, layouts *nt.Layouts, build uint32) {
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "\tNAME\tBUILDS\tDTB OFFSET\tDTB SIZE")
	for i := range layouts.Process {
		l := &layouts.Process[i]
		mark := ""
		if build != 0 && l.Applies(build) {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%#x\t%d\n", mark, l.Name, l.Range(), l.DirectoryTableBase.Offset, l.DirectoryTableBase.Size)
	}
	tw.Flush()
}

// Platforms implements subcommands.Command for the "platforms" command.
type Platforms struct{}

// Name implements subcommands.Command.Name.
func (*Platforms) Name() string {
	return "platforms"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Platforms) Synopsis() string {
	return "list available platforms"
}

// Usage implements subcommands.Command.Usage.
func (*Platforms) Usage() string {
	return "platforms - list the platforms that can be selected with --platform.\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Platforms) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Platforms) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	for _, name := range platform.List() {
		fmt.Fprintln(os.Stdout, name)
	}
	return subcommands.ExitSuccess
}
