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

	"github.com/CovenantSQL/creditsync/ledger"
	"github.com/CovenantSQL/creditsync/reconcile"
	"github.com/CovenantSQL/creditsync/registry"
	"github.com/CovenantSQL/creditsync/utils/log"
)

func abortWithError(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, gin.H{
		"success": false,
		"msg":     err.Error(),
	})
	_ = c.Error(err)
}

// abortWithServiceError translates a service failure to its api error code,
// the underlying cause is reported as data unless it is an internal failure.
func abortWithServiceError(c *gin.Context, err error) {
	code, apiErr := errorStatus(err)

	resp := gin.H{
		"success": false,
		"msg":     apiErr.Error(),
	}
	if code != http.StatusInternalServerError {
		resp["data"] = gin.H{"error": err.Error()}
	} else {
		log.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
	}

	c.AbortWithStatusJSON(code, resp)
	_ = c.Error(err)
}

func errorStatus(err error) (int, error) {
	cause := errors.Cause(err)

	switch cause {
	case registry.ErrForbidden:
		return http.StatusForbidden, ErrForbidden
	case registry.ErrInvalidRequest, ledger.ErrInvalidTokenID, reconcile.ErrInvalidRange:
		return http.StatusBadRequest, ErrInvalidRequest
	case registry.ErrNotFound:
		return http.StatusNotFound, ErrNotFound
	case reconcile.ErrBackfillRunning:
		return http.StatusConflict, ErrBackfillRunning
	case ledger.ErrGatewayUnavailable:
		return http.StatusServiceUnavailable, ErrLedgerUnavailable
	}

	if se, ok := cause.(*ledger.SubmissionError); ok {
		if se.Retryable {
			return http.StatusServiceUnavailable, ErrSubmissionRetryable
		}
		return http.StatusBadGateway, ErrSubmissionRejected
	}

	return http.StatusInternalServerError, ErrInternal
}

func responseWithData(c *gin.Context, code int, data interface{}) {
	c.JSON(code, gin.H{
		"success": true,
		"msg":     "",
		"data":    data,
	})
}

func apiKey(c *gin.Context) string {
	return c.GetHeader(headerAPIKey)
}

func getService(c *gin.Context) *registry.Service {
	return c.MustGet(keyService).(*registry.Service)
}

func getSyncer(c *gin.Context) *reconcile.Syncer {
	return c.MustGet(keySyncer).(*reconcile.Syncer)
}
