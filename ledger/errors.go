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

package ledger

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrGatewayUnavailable defines connectivity loss to the ledger node.
	ErrGatewayUnavailable = errors.New("ledger gateway unavailable")
	// ErrRecordNotFound defines a token id unknown to the ledger.
	ErrRecordNotFound = errors.New("ledger record not found")
	// ErrUnknownCall defines an unsupported state-changing call.
	ErrUnknownCall = errors.New("unknown ledger call")
	// ErrInvalidTokenID defines a token id which is not a decimal integer.
	ErrInvalidTokenID = errors.New("invalid token id")
	// ErrTxReverted defines a mined transaction with failed status.
	ErrTxReverted = errors.New("transaction reverted")
	// ErrUnknownEvent defines a log which is not emitted by the registry contract.
	ErrUnknownEvent = errors.New("unknown registry event")
)

// SubmissionError defines a failed state-changing call.
type SubmissionError struct {
	// Retryable reports whether the failure is transient (network, timeout) rather than a ledger rejection.
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *SubmissionError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("submission failed (retryable): %v", e.Err)
	}
	return fmt.Sprintf("submission rejected: %v", e.Err)
}

// IsRetryable reports whether err is a retryable submission failure or a connectivity loss.
func IsRetryable(err error) bool {
	switch cause := errors.Cause(err).(type) {
	case *SubmissionError:
		return cause.Retryable
	default:
		return cause == ErrGatewayUnavailable
	}
}
