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

package types

import (
	"fmt"
	"strconv"
)

// EventKind defines the kind of a registry ledger notification.
type EventKind int8

const (
	// KindUnknown defines an unrecognized notification kind.
	KindUnknown EventKind = iota
	// KindIssued defines the credit issuance notification kind.
	KindIssued
	// KindRetired defines the credit retirement notification kind.
	KindRetired
)

// EventKinds lists the kinds consumed by the synchronizer, in apply priority order.
var EventKinds = []EventKind{KindIssued, KindRetired}

// String implements the Stringer interface.
func (k EventKind) String() string {
	switch k {
	case KindIssued:
		return "Issued"
	case KindRetired:
		return "Retired"
	default:
		return "Unknown"
	}
}

// EventName returns the contract event name of the kind.
func (k EventKind) EventName() string {
	switch k {
	case KindIssued:
		return "CreditIssued"
	case KindRetired:
		return "CreditRetired"
	default:
		return ""
	}
}

// Event defines the canonical domain event normalized from a ledger notification.
type Event interface {
	Kind() EventKind
	TokenID() string
	At() Position
}

// Position locates an event on the ledger.
type Position struct {
	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    uint   `json:"logIndex"`
	TxHash      string `json:"txHash"`
	// Timestamp is the block time in epoch seconds, zero if unknown.
	Timestamp int64 `json:"timestamp"`
}

// Key returns the notification identity used for duplicate detection. The block number is part of
// it so a log re-included by a reorg is not mistaken for the one already applied.
func (p Position) Key() string {
	return strconv.FormatUint(p.BlockNumber, 10) + ":" + p.TxHash + ":" + strconv.FormatUint(uint64(p.LogIndex), 10)
}

// Issued defines a credit issuance.
type Issued struct {
	ID             string `json:"id"`
	Owner          string `json:"owner"`
	ProjectID      string `json:"projectId"`
	Location       string `json:"location"`
	VerificationID string `json:"verificationId"`
	Position
}

// Kind implements Event.Kind.
func (e *Issued) Kind() EventKind { return KindIssued }

// TokenID implements Event.TokenID.
func (e *Issued) TokenID() string { return e.ID }

// At implements Event.At.
func (e *Issued) At() Position { return e.Position }

// String implements the Stringer interface.
func (e *Issued) String() string {
	return fmt.Sprintf("Issued{id=%s owner=%s block=%d tx=%s}", e.ID, e.Owner, e.BlockNumber, e.TxHash)
}

// Retired defines a credit retirement.
type Retired struct {
	ID        string `json:"id"`
	RetiredBy string `json:"retiredBy"`
	Position
}

// Kind implements Event.Kind.
func (e *Retired) Kind() EventKind { return KindRetired }

// TokenID implements Event.TokenID.
func (e *Retired) TokenID() string { return e.ID }

// At implements Event.At.
func (e *Retired) At() Position { return e.Position }

// String implements the Stringer interface.
func (e *Retired) String() string {
	return fmt.Sprintf("Retired{id=%s by=%s block=%d tx=%s}", e.ID, e.RetiredBy, e.BlockNumber, e.TxHash)
}
