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

package utils

import (
	"github.com/ethereum/go-ethereum/common"
	validator "gopkg.in/go-playground/validator.v9"
)

// NewValidator returns a struct validator with the ethaddr tag (0x prefixed hex address) registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("ethaddr", func(fl validator.FieldLevel) bool {
		return common.IsHexAddress(fl.Field().String())
	})
	return v
}
