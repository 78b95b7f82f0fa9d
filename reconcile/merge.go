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

import (
	"github.com/CovenantSQL/creditsync/projection"
	"github.com/CovenantSQL/creditsync/types"
)

func eventTime(pos types.Position, now int64) int64 {
	if pos.Timestamp > 0 {
		return pos.Timestamp
	}
	return now
}

func setIfEmpty(dst *string, v string) bool {
	if *dst == "" && v != "" {
		*dst = v
		return true
	}
	return false
}

// mergeIssued fills the issuance fields which are still empty, retirement state is left alone.
func mergeIssued(ev *types.Issued, now int64) projection.MergeFunc {
	return func(c *types.Credit, exists bool) bool {
		changed := !exists

		changed = setIfEmpty(&c.Owner, ev.Owner) || changed
		changed = setIfEmpty(&c.ProjectID, ev.ProjectID) || changed
		changed = setIfEmpty(&c.Location, ev.Location) || changed
		changed = setIfEmpty(&c.VerificationID, ev.VerificationID) || changed
		changed = setIfEmpty(&c.IssueTxHash, ev.TxHash) || changed

		if c.IssuedAt == 0 {
			c.IssuedAt = eventTime(ev.Position, now)
			changed = true
		}
		if c.SourceBlockNumber == 0 && ev.BlockNumber > 0 {
			c.SourceBlockNumber = ev.BlockNumber
			changed = true
		}

		return changed
	}
}

// mergeRetired flips the retirement flag once, creating a placeholder for unknown credits.
// A repeated retirement only completes missing retirement fields and reports itself via duplicate.
func mergeRetired(ev *types.Retired, now int64, duplicate *bool) projection.MergeFunc {
	return func(c *types.Credit, exists bool) bool {
		if !c.Retired {
			c.Retired = true
			c.RetiredBy = ev.RetiredBy
			c.RetiredAt = eventTime(ev.Position, now)
			c.RetireTxHash = ev.TxHash
			c.RetireBlockNumber = ev.BlockNumber
			return true
		}

		*duplicate = true

		changed := setIfEmpty(&c.RetiredBy, ev.RetiredBy)
		changed = setIfEmpty(&c.RetireTxHash, ev.TxHash) || changed
		if c.RetiredAt == 0 {
			c.RetiredAt = eventTime(ev.Position, now)
			changed = true
		}
		if c.RetireBlockNumber == 0 && ev.BlockNumber > 0 {
			c.RetireBlockNumber = ev.BlockNumber
			changed = true
		}
		return changed
	}
}
