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

package reconcile

import "github.com/pkg/errors"

var (
	// ErrUnsupportedEventKind defines an event outside the closed credit event set.
	ErrUnsupportedEventKind = errors.New("unsupported event kind")
	// ErrStoreWriteFailed defines a projection write failure while applying an event.
	ErrStoreWriteFailed = errors.New("projection store write failed")
	// ErrBackfillRunning defines a backfill request issued while another pass is in flight.
	ErrBackfillRunning = errors.New("backfill already running")
	// ErrInvalidRange defines a backfill range with start after end.
	ErrInvalidRange = errors.New("invalid backfill range")
)
