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

// Package util groups helpers shared by vtop commands.
package util

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/vtop/pkg/log"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by tooling that wraps vtop.
var ErrorLogger io.Writer

// jsonError is the structure written to ErrorLogger.
type jsonError struct {
	Msg   string    `json:"msg"`
	Level string    `json:"level"`
	Time  time.Time `json:"time"`
}

// Fatalf logs the same message to stderr and the error log, then exits with
// status 128.
func Fatalf(format string, args ...any) {
	log.Warningf(format, args...)
	writeError(format, args...)
	os.Exit(128)
}

// Errorf logs the same message to stderr and the error log, and returns
// subcommands.ExitFailure for the command to return.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	log.Warningf(format, args...)
	writeError(format, args...)
	return subcommands.ExitFailure
}

func writeError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, msg)
	if ErrorLogger == nil {
		return
	}
	b, err := json.Marshal(jsonError{Msg: msg, Level: "error", Time: time.Now()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error marshaling error message: %v\n", err)
		return
	}
	ErrorLogger.Write(append(b, '\n'))
}
