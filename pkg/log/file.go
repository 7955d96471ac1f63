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

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultFileName is the file name used when logPattern names a directory.
const DefaultFileName = "vtop.log.%TIMESTAMP%.%COMMAND%.txt"

// OpenFile opens a log file for appending. If logPattern ends with '/', it is
// used as a directory holding a file named DefaultFileName. The following
// variables are expanded in logPattern:
//
//	%TIMESTAMP%  start time, formatted as 20060102-150405.000000
//	%COMMAND%    the subcommand being run
//
// The parent directory is created if needed. An empty pattern returns a nil
// file and no error.
func OpenFile(logPattern, command string, start time.Time) (*os.File, error) {
	if len(logPattern) == 0 {
		return nil, nil
	}
	if strings.HasSuffix(logPattern, "/") {
		logPattern += DefaultFileName
	}

	logPath := strings.ReplaceAll(logPattern, "%TIMESTAMP%", start.Format("20060102-150405.000000"))
	logPath = strings.ReplaceAll(logPath, "%COMMAND%", command)

	// Create parent directory if it doesn't exist.
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, fmt.Errorf("error creating dir %q: %v", dir, err)
	}

	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0664)
	if err != nil {
		return nil, fmt.Errorf("error opening file %q: %v", logPath, err)
	}
	return f, nil
}
