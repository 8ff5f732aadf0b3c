// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func actorRouter(resolver ActorResolver) *gin.Engine {
	r := gin.New()
	r.Use(ActorMiddleware(resolver))
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, GetActor(c))
	})
	return r
}

type rejectResolver struct{}

func (rejectResolver) Resolve(*http.Request) (string, error) {
	return "", errors.New("denied")
}

func TestActorMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		resolver ActorResolver
		wantCode int
		wantBody string
	}{
		{"default actor", "", nil, http.StatusOK, DefaultActor},
		{"header actor", "ana", nil, http.StatusOK, "ana"},
		{"trimmed", "  ben  ", nil, http.StatusOK, "ben"},
		{"too long", strings.Repeat("x", 200), nil, http.StatusBadRequest, "invalid_actor"},
		{"control char", "ana\x07", nil, http.StatusBadRequest, "invalid_actor"},
		{"no default", "", HeaderResolver{}, http.StatusBadRequest, "invalid_actor"},
		{"custom resolver", "ana", rejectResolver{}, http.StatusBadRequest, "denied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set(ActorHeader, tt.header)
			}
			w := httptest.NewRecorder()
			actorRouter(tt.resolver).ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestGetActor_WithoutMiddleware(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, DefaultActor, GetActor(c))
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(0.001, 2))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestRateLimit_Disabled(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(0, 0))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
}
