// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/MetricVault/services/catalog/editor"
	"github.com/AleutianAI/MetricVault/services/catalog/handlers"
)

// SetupRoutes registers the catalog API on router. metricsHandler serves
// /metrics when non-nil.
func SetupRoutes(router *gin.Engine, svc *editor.Service, metricsHandler http.Handler) {
	router.GET("/health", handlers.HealthCheck)
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		metrics := v1.Group("/metrics")
		{
			metrics.GET("", handlers.ListMetrics(svc))
			metrics.GET("/:id", handlers.GetMetric(svc))
			metrics.POST("/:id/edit", handlers.BeginEdit(svc))
			metrics.DELETE("/:id/edit", handlers.CancelEdit(svc))
			metrics.GET("/:id/draft", handlers.GetDraft(svc))
			metrics.PUT("/:id/draft", handlers.SetDraftField(svc))
			metrics.POST("/:id/commit", handlers.CommitEdit(svc))
			metrics.GET("/:id/versions", handlers.ListVersions(svc))
			metrics.GET("/:id/versions/compare", handlers.CompareVersions(svc))
			metrics.GET("/:id/feed", handlers.GetChangeFeed(svc))
			metrics.GET("/:id/trend", handlers.GetTrend(svc))
		}
		// Multi-metric routes
		bulk := v1.Group("/bulk")
		{
			bulk.POST("/lock", handlers.BulkLock(svc))
			bulk.POST("/unlock", handlers.BulkUnlock(svc))
		}
		v1.POST("/feed", handlers.AggregatedFeed(svc))
	}
}
