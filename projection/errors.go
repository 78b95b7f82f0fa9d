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

package projection

import "github.com/pkg/errors"

var (
	// ErrNotFound defines a record absent from the projection.
	ErrNotFound = errors.New("record not found in projection")
	// ErrProjectExists defines a duplicated project registration.
	ErrProjectExists = errors.New("project already exists")
	// ErrUnsupportedDatabase defines a storage url of an unknown driver.
	ErrUnsupportedDatabase = errors.New("unsupported projection database")
)
