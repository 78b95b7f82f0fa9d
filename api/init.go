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


// Package api exposes the credit registry over http.
package api

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
	uuid "github.com/satori/go.uuid"

	"github.com/CovenantSQL/creditsync/reconcile"
	"github.com/CovenantSQL/creditsync/registry"
)

const (
	headerAPIKey    = "X-API-Key"
	headerRequestID = "X-Request-ID"

	keyService   = "service"
	keySyncer    = "syncer"
	keyRequestID = "request_id"
)

// NewServer returns the http server of the registry, it is not started.
func NewServer(listenAddr string, svc *registry.Service, syncer *reconcile.Syncer) *http.Server {
	e := gin.Default()
	e.Use(gin.Recovery())

	initCors(e)
	e.Use(requestID)
	e.Use(func(c *gin.Context) {
		c.Set(keyService, svc)
		c.Set(keySyncer, syncer)
		c.Next()
	})

	AddRoutes(e)

	return &http.Server{
		Addr:    listenAddr,
		Handler: e,
	}
}

// AddRoutes registers the registry routes.
func AddRoutes(e *gin.Engine) {
	e.GET("/", banner)
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := e.Group("/v1")
	{
		v1.POST("/credits/mint", mintCredit)
		v1.POST("/credits/retire", retireCredit)
		v1.GET("/credits/:tokenId", getCredit)

		v1.POST("/projects", createProject)
		v1.GET("/projects/:projectId", getProject)

		v1.GET("/sync/status", syncStatus)
		v1.POST("/sync/backfill", runBackfill)
	}
}

func initCors(e *gin.Engine) {
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AddAllowHeaders(headerAPIKey, headerRequestID)
	corsCfg.AddExposeHeaders(headerRequestID)
	e.Use(cors.New(corsCfg))
}

func requestID(c *gin.Context) {
	id := c.GetHeader(headerRequestID)
	if id == "" {
		id = uuid.Must(uuid.NewV4()).String()
	}
	c.Set(keyRequestID, id)
	c.Header(headerRequestID, id)
	c.Next()
}

func banner(c *gin.Context) {
	responseWithData(c, http.StatusOK, gin.H{
		"name":    "creditsync",
		"version": version.Version,
		"request": c.GetString(keyRequestID),
	})
}
