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

// Project defines the off-chain metadata of a carbon project referenced by credits.
type Project struct {
	ProjectID   string  `db:"project_id" json:"projectId" validate:"required,max=128"`
	Name        string  `db:"name" json:"name" validate:"required,max=256"`
	Description string  `db:"description" json:"description,omitempty"`
	Lat         float64 `db:"lat" json:"lat" validate:"gte=-90,lte=90"`
	Lon         float64 `db:"lon" json:"lon" validate:"gte=-180,lte=180"`
	CreatedBy   string  `db:"created_by" json:"createdBy,omitempty"`
	Created     int64   `db:"created" json:"created"`
	Updated     int64   `db:"updated" json:"updated"`
}

// PreInsert implements gorp.HasPreInsert interface.
func (p *Project) PreInsert(gorp.SqlExecutor) error {
	p.Created = time.Now().Unix()
	p.Updated = p.Created
	return nil
}

// PreUpdate implements gorp.HasPreUpdate interface.
func (p *Project) PreUpdate(gorp.SqlExecutor) error {
	p.Updated = time.Now().Unix()
	return nil
}
