/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */


package utils

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// HomeDirExpand expands a leading tilde of path to the home directory of the current user,
// falling back to $HOME when the user database is unavailable (static builds in containers).
func HomeDirExpand(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home := os.Getenv("HOME")
	if usr, err := user.Current(); err == nil && usr.HomeDir != "" {
		home = usr.HomeDir
	}
	if home == "" {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}

// Exist reports whether path exists.
func Exist(path string) bool {
	_, err := os.Stat(path)
	return err == nil || os.IsExist(err)
}
