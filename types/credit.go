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
	"time"

	gorp "gopkg.in/gorp.v2"
)

// Credit defines the projected credit record, keyed by the ledger token id.
type Credit struct {
	ID             string `db:"id" json:"id"`
	Owner          string `db:"owner" json:"owner"`
	ProjectID      string `db:"project_id" json:"projectId"`
	Location       string `db:"location" json:"location,omitempty"`
	VerificationID string `db:"verification_id" json:"verificationId"`
	IssuedAt       int64  `db:"issued_at" json:"issuedAtEpochSeconds"`
	IssueTxHash    string `db:"issue_tx_hash" json:"issueTxHash"`

	Retired      bool   `db:"retired" json:"retired"`
	RetiredBy    string `db:"retired_by" json:"retiredBy,omitempty"`
	RetiredAt    int64  `db:"retired_at" json:"retiredAtEpochSeconds,omitempty"`
	RetireTxHash string `db:"retire_tx_hash" json:"retireTxHash,omitempty"`

	// SourceBlockNumber is the block of the applied issuance.
	SourceBlockNumber uint64 `db:"source_block_number" json:"sourceBlockNumber"`
	// RetireBlockNumber is the block of the applied retirement.
	RetireBlockNumber uint64 `db:"retire_block_number" json:"retireBlockNumber,omitempty"`

	Created int64 `db:"created" json:"created"`
	Updated int64 `db:"updated" json:"updated"`
}

// Issued reports whether the issuance of the credit has been projected.
func (c *Credit) Issued() bool {
	return c.IssueTxHash != "" || c.Owner != ""
}

// Placeholder reports whether the record only carries retirement data so far.
func (c *Credit) Placeholder() bool {
	return c.Retired && !c.Issued()
}

// Clone returns a copy of the record.
func (c *Credit) Clone() *Credit {
	if c == nil {
		return nil
	}
	d := *c
	return &d
}

// PreInsert implements gorp.HasPreInsert interface.
func (c *Credit) PreInsert(gorp.SqlExecutor) error {
	c.Created = time.Now().Unix()
	c.Updated = c.Created
	return nil
}

// PreUpdate implements gorp.HasPreUpdate interface.
func (c *Credit) PreUpdate(gorp.SqlExecutor) error {
	c.Updated = time.Now().Unix()
	return nil
}

// SyncCursor defines the persisted synchronization position of a ledger stream.
type SyncCursor struct {
	Name    string `db:"name"`
	Block   uint64 `db:"block"`
	Updated int64  `db:"updated"`
}

// PreInsert implements gorp.HasPreInsert interface.
func (c *SyncCursor) PreInsert(gorp.SqlExecutor) error {
	c.Updated = time.Now().Unix()
	return nil
}

// PreUpdate implements gorp.HasPreUpdate interface.
func (c *SyncCursor) PreUpdate(gorp.SqlExecutor) error {
	c.Updated = time.Now().Unix()
	return nil
}
