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


package api

import "github.com/pkg/errors"

var (
	// ErrForbidden defines a state-changing request without a valid api key.
	ErrForbidden = errors.New("ERR_FORBIDDEN")
	// ErrInvalidRequest defines a request with missing or malformed fields.
	ErrInvalidRequest = errors.New("ERR_INVALID_REQUEST")
	// ErrNotFound defines a credit or project unknown to the registry.
	ErrNotFound = errors.New("ERR_NOT_FOUND")
	// ErrBackfillRunning defines a manual backfill requested while another pass runs.
	ErrBackfillRunning = errors.New("ERR_BACKFILL_RUNNING")
	// ErrLedgerUnavailable defines connectivity loss to the ledger node.
	ErrLedgerUnavailable = errors.New("ERR_LEDGER_UNAVAILABLE")
	// ErrSubmissionRetryable defines a transient failure of a ledger submission, the request may be retried.
	ErrSubmissionRetryable = errors.New("ERR_SUBMISSION_RETRYABLE")
	// ErrSubmissionRejected defines a ledger submission rejected by the contract.
	ErrSubmissionRejected = errors.New("ERR_SUBMISSION_REJECTED")
	// ErrInternal defines an unexpected failure.
	ErrInternal = errors.New("ERR_INTERNAL")
)
