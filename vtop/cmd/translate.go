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
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/vtop/pkg/hostarch"
	"gvisor.dev/vtop/pkg/kernel"
	"gvisor.dev/vtop/pkg/pagetables"
	"gvisor.dev/vtop/vtop/cmd/util"
	"gvisor.dev/vtop/vtop/config"
	"gvisor.dev/vtop/vtop/flag"
)

// Translate implements subcommands.Command for the "translate" command.
type Translate struct {
	pid    uint
	trace  bool
	verify bool
}

// Name implements subcommands.Command.Name.
func (*Translate) Name() string {
	return "translate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Translate) Synopsis() string {
	return "translate virtual addresses to physical addresses"
}

// Usage implements subcommands.Command.Usage.
func (*Translate) Usage() string {
	return `translate [flags] <address>... - translate virtual addresses of a process by walking its page tables.

Addresses are hexadecimal. Up to --jobs addresses are translated concurrently.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (t *Translate) SetFlags(f *flag.FlagSet) {
	f.UintVar(&t.pid, "pid", pidFlag, "process whose address space is walked.")
	f.BoolVar(&t.trace, "trace", false, "print every entry visited by the walk.")
	f.BoolVar(&t.verify, "verify", false, "cross-check results against the kernel's own translation. Only meaningful for the process the kernel runs in.")
}

// translation is the outcome of one walk.
type translation struct {
	va       hostarch.Addr
	trace    *pagetables.Trace
	err      error
	kernelPA hostarch.PhysAddr
}

// Execute implements subcommands.Command.Execute.
func (t *Translate) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	pid, err := parsePID(t.pid)
	if err != nil {
		util.Fatalf("%v", err)
	}
	results := make([]translation, f.NArg())
	for i, arg := range f.Args() {
		va, err := parseAddress(arg)
		if err != nil {
			util.Fatalf("%v", err)
		}
		results[i].va = hostarch.Addr(va)
	}

	k, p, err := attach(conf)
	if err != nil {
		util.Fatalf("%v", err)
	}
	defer p.Close()

	w := pagetables.New(k, k)
	w.Presence = conf.Presence
	if err := t.run(ctx, k, w, pid, conf.Jobs, results); err != nil {
		return util.Errorf("translation aborted: %v", err)
	}

	failed := false
	for i := range results {
		if results[i].err != nil {
			failed = true
		}
		t.print(os.Stdout, pid, &results[i])
	}
	if failed {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// run walks every address in results. Failures of individual walks are
// recorded in results; execution failures abort the batch.
func (t *Translate) run(ctx context.Context, k *kernel.Kernel, w *pagetables.Walker, pid uint32, jobs int, results []translation) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i := range results {
		r := &results[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.trace, r.err = w.Walk(r.va, pid)
			if errors.Is(r.err, kernel.ErrExecutionFailed) {
				return r.err
			}
			if t.verify && r.err == nil {
				pa, err := k.GetPhysicalAddress(r.va)
				if err != nil {
					return err
				}
				r.kernelPA = pa
			}
			return nil
		})
	}
	return g.Wait()
}

func (t *Translate) print(out io.Writer, pid uint32, r *translation) {
	if t.trace && r.trace != nil {
		printTrace(out, r.trace)
	}
	if r.err != nil {
		fmt.Fprintf(out, "%v\tpid %d\tfailed: %v\n", r.va, pid, r.err)
		return
	}
	pa := r.trace.PhysicalAddress
	switch {
	case !t.verify:
		fmt.Fprintf(out, "%v\tpid %d\t%v\n", r.va, pid, pa)
	case r.kernelPA == pa:
		fmt.Fprintf(out, "%v\tpid %d\t%v\tkernel %v\tmatch\n", r.va, pid, pa, r.kernelPA)
	default:
		fmt.Fprintf(out, "%v\tpid %d\t%v\tkernel %v\tMISMATCH\n", r.va, pid, pa, r.kernelPA)
	}
}

// printTrace writes the entries visited by a walk, one level per line.
func printTrace(out io.Writer, tr *pagetables.Trace) {
	i := tr.Indices
	fmt.Fprintf(out, "virtual address %v (pml4 %d, pdp %d, pd %d, pt %d, offset %#x)\n", tr.VirtualAddress, i.PML4, i.PDP, i.PD, i.PT, i.Offset)
	fmt.Fprintf(out, "directory table base %v\n", tr.DirectoryTableBase)
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "LEVEL\tTABLE\tINDEX\tENTRY ADDRESS\tENTRY")
	for _, s := range tr.Steps {
		fmt.Fprintf(tw, "%s\t%v\t%d\t%v\t%v\n", s.Level, s.Table, s.Index, s.Address, s.Entry)
	}
	tw.Flush()
}
