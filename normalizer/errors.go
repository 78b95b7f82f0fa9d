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

package normalizer

import "github.com/pkg/errors"

var (
	// ErrMalformedNotification defines a notification missing required fields or with mistyped ones.
	ErrMalformedNotification = errors.New("malformed notification")
	// ErrRemovedNotification defines a log removed from the canonical chain by a reorganization.
	ErrRemovedNotification = errors.New("notification removed by chain reorganization")
)
