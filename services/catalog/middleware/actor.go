// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the catalog service.
//
// # Actor Flow
//
// The actor middleware resolves who is making the request and stores the
// identity in the Gin context. The identity is recorded as the lock holder
// and as ChangedBy on versions; it is not an authorization decision.
//
//	Request
//	   │
//	   ▼
//	ActorMiddleware
//	   │
//	   ├─► resolver.Resolve(request)   (default: X-Actor header)
//	   │
//	   ├─► validation.ValidateActor
//	   │
//	   └─► Store actor in context
//	           │
//	           ▼
//	       Handler (retrieves via GetActor)
//
// When no header is sent, requests act as "local-user" so the CLI works
// without any identity infrastructure.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/MetricVault/pkg/validation"
	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
)

// ActorHeader carries the acting identity.
const ActorHeader = "X-Actor"

// DefaultActor is used when a request names no actor.
const DefaultActor = "local-user"

// actorKey is the context key for storing the actor.
const actorKey = "metricvault_actor"

// ActorResolver extracts the acting identity from a request.
type ActorResolver interface {
	// Resolve returns the actor or an error to reject the request.
	Resolve(r *http.Request) (string, error)
}

// HeaderResolver reads ActorHeader, falling back to Default.
type HeaderResolver struct {
	Default string
}

// Resolve implements ActorResolver.
func (h HeaderResolver) Resolve(r *http.Request) (string, error) {
	actor := strings.TrimSpace(r.Header.Get(ActorHeader))
	if actor == "" {
		actor = h.Default
	}
	if actor == "" {
		return "", errors.New("no actor supplied")
	}
	return actor, nil
}

var _ ActorResolver = HeaderResolver{}

// SetActor stores the actor in the Gin context.
func SetActor(c *gin.Context, actor string) {
	c.Set(actorKey, actor)
}

// GetActor returns the actor stored by ActorMiddleware, or DefaultActor
// when the middleware did not run.
func GetActor(c *gin.Context) string {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(string); ok {
			return actor
		}
	}
	return DefaultActor
}

// ActorMiddleware resolves and validates the actor of every request.
//
// # Inputs
//
//   - resolver: Identity source. nil means HeaderResolver{Default: DefaultActor}.
//
// # Outputs
//
//   - gin.HandlerFunc: Aborts with 400 when the actor is missing or invalid.
func ActorMiddleware(resolver ActorResolver) gin.HandlerFunc {
	if resolver == nil {
		resolver = HeaderResolver{Default: DefaultActor}
	}
	return func(c *gin.Context) {
		actor, err := resolver.Resolve(c.Request)
		if err == nil {
			err = validation.ValidateActor(actor)
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error: err.Error(),
				Code:  "invalid_actor",
			})
			return
		}

		SetActor(c, actor)
		c.Next()
	}
}
