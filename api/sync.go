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
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/creditsync/utils/log"
)

func syncStatus(c *gin.Context) {
	st, err := getService(c).Status(c.Request.Context())
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	syncer := getSyncer(c)

	responseWithData(c, http.StatusOK, gin.H{
		"status":       st,
		"running":      syncer.Running(),
		"lastBackfill": syncer.LastBackfill(),
	})
}

func runBackfill(c *gin.Context) {
	if err := getService(c).Authorize(apiKey(c)); err != nil {
		abortWithServiceError(c, err)
		return
	}

	r := struct {
		FromBlock *uint64 `json:"fromBlock"`
		ToBlock   *uint64 `json:"toBlock"`
	}{}

	// an empty body backfills from the cursor to the latest confirmed block
	if err := c.ShouldBindJSON(&r); err != nil && err != io.EOF {
		abortWithError(c, http.StatusBadRequest, errors.Wrap(ErrInvalidRequest, err.Error()))
		return
	}

	res, err := getSyncer(c).Backfill(c.Request.Context(), r.FromBlock, r.ToBlock)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	log.WithFields(log.Fields{
		"from":    res.From,
		"to":      res.To,
		"applied": res.Applied,
		"request": c.GetString(keyRequestID),
	}).Info("manual backfill finished")

	responseWithData(c, http.StatusOK, res)
}
