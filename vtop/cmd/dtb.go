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
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/vtop/vtop/cmd/util"
	"gvisor.dev/vtop/vtop/config"
	"gvisor.dev/vtop/vtop/flag"
)

// DTB implements subcommands.Command for the "dtb" command.
type DTB struct {
	pid uint
}

// Name implements subcommands.Command.Name.
func (*DTB) Name() string {
	return "dtb"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*DTB) Synopsis() string {
	return "print the directory table base of a process"
}

// Usage implements subcommands.Command.Usage.
func (*DTB) Usage() string {
	return `dtb [flags] - print the process object and directory table base of a process.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *DTB) SetFlags(f *flag.FlagSet) {
	f.UintVar(&d.pid, "pid", pidFlag, "process to inspect.")
}

// Execute implements subcommands.Command.Execute.
func (d *DTB) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	pid, err := parsePID(d.pid)
	if err != nil {
		util.Fatalf("%v", err)
	}

	k, p, err := attach(conf)
	if err != nil {
		util.Fatalf("%v", err)
	}
	defer p.Close()

	obj, err := k.ProcessObject(pid)
	if err != nil {
		return util.Errorf("%v", err)
	}
	dtb, err := k.ResolveDTB(pid)
	if err != nil {
		return util.Errorf("%v", err)
	}
	layout := k.Layout()
	fmt.Fprintf(os.Stdout, "pid %d\n", pid)
	fmt.Fprintf(os.Stdout, "process object %v\n", obj)
	fmt.Fprintf(os.Stdout, "directory table base %v (raw %#x) from %q+%#x\n", dtb.RoundDown(), uint64(dtb), layout.Name, layout.DirectoryTableBase.Offset)
	return subcommands.ExitSuccess
}
