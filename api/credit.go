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

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/creditsync/registry"
)

func mintCredit(c *gin.Context) {
	svc := getService(c)
	if err := svc.Authorize(apiKey(c)); err != nil {
		abortWithServiceError(c, err)
		return
	}

	r := registry.IssueRequest{}
	if err := c.ShouldBindJSON(&r); err != nil {
		abortWithError(c, http.StatusBadRequest, errors.Wrap(ErrInvalidRequest, err.Error()))
		return
	}

	res, err := svc.Issue(c.Request.Context(), apiKey(c), &r)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	responseWithData(c, http.StatusOK, res)
}

func retireCredit(c *gin.Context) {
	svc := getService(c)
	if err := svc.Authorize(apiKey(c)); err != nil {
		abortWithServiceError(c, err)
		return
	}

	r := registry.RetireRequest{}
	if err := c.ShouldBindJSON(&r); err != nil {
		abortWithError(c, http.StatusBadRequest, errors.Wrap(ErrInvalidRequest, err.Error()))
		return
	}

	res, err := svc.Retire(c.Request.Context(), apiKey(c), &r)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	responseWithData(c, http.StatusOK, res)
}

func getCredit(c *gin.Context) {
	r := struct {
		TokenID string `uri:"tokenId" binding:"required"`
	}{}

	if err := c.ShouldBindUri(&r); err != nil {
		abortWithError(c, http.StatusBadRequest, errors.Wrap(ErrInvalidRequest, err.Error()))
		return
	}

	v, err := getService(c).Get(c.Request.Context(), r.TokenID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	responseWithData(c, http.StatusOK, v)
}
