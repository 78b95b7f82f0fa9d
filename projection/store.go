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

// Package projection persists the queryable copy of the credit registry ledger.
package projection

import (
	"context"

	"github.com/CovenantSQL/creditsync/types"
)

// MergeFunc mutates the current record in place and reports whether it changed.
// exists is false when c is a fresh record carrying only its id.
type MergeFunc func(c *types.Credit, exists bool) (changed bool)

// Store defines the credit projection.
type Store interface {
	// Merge atomically reads the record of id, applies fn and persists the result when changed.
	Merge(ctx context.Context, id string, fn MergeFunc) (*types.Credit, error)
	// Get returns the record of id or ErrNotFound.
	Get(ctx context.Context, id string) (*types.Credit, error)
	// Cursor returns the persisted synchronization position.
	Cursor(ctx context.Context, name string) (block uint64, ok bool, err error)
	// AdvanceCursor moves the position forward and returns the resulting value, it never decreases.
	AdvanceCursor(ctx context.Context, name string, block uint64) (uint64, error)
	// MaxBlock returns the highest ledger block recorded by any credit.
	MaxBlock(ctx context.Context) (block uint64, ok bool, err error)
}

// ProjectStore defines the off-chain project metadata storage.
type ProjectStore interface {
	AddProject(ctx context.Context, p *types.Project) error
	GetProject(ctx context.Context, projectID string) (*types.Project, error)
}

// Stats summarizes the projection content.
type Stats struct {
	Credits  int64 `json:"credits"`
	Retired  int64 `json:"retired"`
	Projects int64 `json:"projects"`
}
