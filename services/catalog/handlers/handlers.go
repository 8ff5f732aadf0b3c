// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the catalog HTTP API on gin.
//
// Each constructor returns a gin.HandlerFunc bound to an editor.Service.
// Errors are mapped centrally by writeError:
//
//	*bounds.ValidationError              422
//	*store.LockConflictError             409 (detail.holder)
//	*classify.ClassificationRequiredError 428 (detail.old_value/new_value)
//	store.ErrNotFound, draft.ErrNoDraft  404
//	malformed input                      400
//	anything else                        502
package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/MetricVault/services/catalog/classify"
	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
	"github.com/AleutianAI/MetricVault/services/catalog/editor"
	"github.com/AleutianAI/MetricVault/services/catalog/lock"
	"github.com/AleutianAI/MetricVault/services/catalog/middleware"
)

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// queryInt reads an optional non-negative integer query parameter.
func queryInt(c *gin.Context, name string, fallback int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return n, nil
}

// bindJSON decodes and validates a request body.
func bindJSON(c *gin.Context, req interface{ Validate() error }) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return req.Validate()
}

// ListMetrics handles GET /v1/metrics?category=.
func ListMetrics(svc *editor.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics, err := svc.ListMetrics(c.Request.Context(), c.Query("category"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"metrics": metrics, "count": len(metrics)})
	}
}

// GetMetric handles GET /v1/metrics/:id.
func GetMetric(svc *editor.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := svc.GetMetric(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

// BeginEdit handles POST /v1/metrics/:id/edit.
func BeginEdit(svc *editor.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := svc.BeginEdit(c.Request.Context(), c.Param("id"), middleware.GetActor(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

// SetDraftField handles PUT /v1/metrics/:id/draft.
func SetDraftField(svc *editor.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SetDraftFieldRequest
		if err := bindJSON(c, &req); err != nil {
			writeError(c, err)
			return
		}
		d, err := svc.SetDraftField(c.Request.Context(), c.Param("id"), middleware.GetActor(c), req.Field, req.Value)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

// GetDraft handles GET /v1/metrics/:id/draft.
func GetDraft(svc *editor.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := svc.GetDraft(c.Request.Context(), c.Param("id"), middleware.GetActor(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

// CommitEdit handles POST /v1/metrics/:id/commit.
//
// The body is optional. Without update_type a changed current value is
// answered with 428 and the draft stays open.
func CommitEdit(svc *editor.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CommitRequest
		if c.Request.ContentLength != 0 {
			if err := bindJSON(c, &req); err != nil {
				writeError(c, err)
				return
			}
		}
		decision, err := classify.ParseDecision(req.UpdateType)
		if err != nil {
			writeError(c, err)
			return
		}

		res, err := svc.CommitEdit(c.Request.Context(), c.Param("id"), middleware.GetActor(c), lock.CommitOptions{
			Decision: decision,
			Notes:    req.Notes,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		if res == nil {
			c.JSON(http.StatusOK, gin.H{"status": "already_locked"})
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// CancelEdit handles DELETE /v1/metrics/:id/edit.
func CancelEdit(svc *editor.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.CancelEdit(c.Request.Context(), c.Param("id"), middleware.GetActor(c)); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// ListVersions handles GET /v1/metrics/:id/versions?limit=&offset=.
func ListVersions(svc *editor.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := queryInt(c, "limit", 20)
		if err != nil {
			writeError(c, err)
			return
		}
		offset, err := queryInt(c, "offset", 0)
		if err != nil {
			writeError(c, err)
			return
		}
		versions, err := svc.ListVersions(c.Request.Context(), c.Param("id"), limit, offset)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"versions": versions, "count": len(versions)})
	}
}

// CompareVersions handles GET /v1/metrics/:id/versions/compare?a=&b=.
func CompareVersions(svc *editor.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, errA := strconv.Atoi(c.Query("a"))
		b, errB := strconv.Atoi(c.Query("b"))
		if errA != nil || errB != nil || a < 1 || b < 1 {
			writeError(c, fmt.Errorf("%w: a and b must be version numbers", errBadRequest))
			return
		}
		diff, err := svc.CompareVersions(c.Request.Context(), c.Param("id"), a, b)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"a": a, "b": b, "diff": diff})
	}
}

// GetChangeFeed handles GET /v1/metrics/:id/feed?limit=.
func GetChangeFeed(svc *editor.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := queryInt(c, "limit", 0)
		if err != nil {
			writeError(c, err)
			return
		}
		feed, err := svc.GetChangeFeed(c.Request.Context(), c.Param("id"), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": feed, "count": len(feed)})
	}
}

// GetTrend handles GET /v1/metrics/:id/trend?limit=.
func GetTrend(svc *editor.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := queryInt(c, "limit", 0)
		if err != nil {
			writeError(c, err)
			return
		}
		t, err := svc.GetTrend(c.Request.Context(), c.Param("id"), limit)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}
