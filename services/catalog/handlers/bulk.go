// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
	"github.com/AleutianAI/MetricVault/services/catalog/editor"
	"github.com/AleutianAI/MetricVault/services/catalog/middleware"
)

// BulkUnlock handles POST /v1/bulk/unlock.
//
// Per-item failures never fail the request; the response is 200 with the
// outcome of every id. A partially failed run is still 200.
func BulkUnlock(svc *editor.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.BulkRequest
		if err := bindJSON(c, &req); err != nil {
			writeError(c, err)
			return
		}
		res := svc.UnlockAll(c.Request.Context(), req.MetricIDs, middleware.GetActor(c))
		c.JSON(http.StatusOK, res.Response())
	}
}

// BulkLock handles POST /v1/bulk/lock.
func BulkLock(svc *editor.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.BulkRequest
		if err := bindJSON(c, &req); err != nil {
			writeError(c, err)
			return
		}
		res := svc.LockAll(c.Request.Context(), req.MetricIDs, middleware.GetActor(c))
		c.JSON(http.StatusOK, res.Response())
	}
}

// AggregatedFeed handles POST /v1/feed.
func AggregatedFeed(svc *editor.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.FeedRequest
		if err := bindJSON(c, &req); err != nil {
			writeError(c, err)
			return
		}
		feed, err := svc.GetAggregatedChangeFeed(c.Request.Context(), req.MetricIDs, req.PerMetricLimit, req.TotalLimit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": feed, "count": len(feed)})
	}
}
