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
	"gvisor.dev/vtop/pkg/hostarch"
	"gvisor.dev/vtop/pkg/pagetables"
	"gvisor.dev/vtop/vtop/cmd/util"
	"gvisor.dev/vtop/vtop/flag"
)

// Decompose implements subcommands.Command for the "decompose" command.
type Decompose struct{}

// Name implements subcommands.Command.Name.
func (*Decompose) Name() string {
	return "decompose"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Decompose) Synopsis() string {
	return "split virtual addresses into page-table indices"
}

// Usage implements subcommands.Command.Usage.
func (*Decompose) Usage() string {
	return `decompose <address>... - print the table indices and page offset of each address.

No kernel access is needed.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Decompose) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Decompose) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	vas := make([]hostarch.Addr, 0, f.NArg())
	for _, arg := range f.Args() {
		va, err := parseAddress(arg)
		if err != nil {
			return util.Errorf("%v", err)
		}
		vas = append(vas, hostarch.Addr(va))
	}
	printIndices(os.Stdout, vas)
	return subcommands.ExitSuccess
}

func printIndices(out io.Writer, vas []hostarch.Addr) {
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tPML4\tPDP\tPD\tPT\tOFFSET\tCANONICAL")
	for _, va := range vas {
		i := pagetables.Decompose(va)
		fmt.Fprintf(tw, "%v\t%d\t%d\t%d\t%d\t%#x\t%t\n", va, i.PML4, i.PDP, i.PD, i.PT, i.Offset, i.Canonical())
	}
	tw.Flush()
}
