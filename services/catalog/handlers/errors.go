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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/MetricVault/pkg/validation"
	"github.com/AleutianAI/MetricVault/services/catalog/bounds"
	"github.com/AleutianAI/MetricVault/services/catalog/classify"
	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
	"github.com/AleutianAI/MetricVault/services/catalog/draft"
	"github.com/AleutianAI/MetricVault/services/catalog/editor"
	"github.com/AleutianAI/MetricVault/services/catalog/store"
)

// Error codes returned in datatypes.ErrorResponse.Code.
const (
	CodeValidation             = "validation_failed"
	CodeLockConflict           = "lock_conflict"
	CodeClassificationRequired = "classification_required"
	CodeNotFound               = "not_found"
	CodeNoDraft                = "no_draft"
	CodeNotEditing             = "not_editing"
	CodeBadRequest             = "bad_request"
	CodeTrendUnavailable       = "trend_unavailable"
	CodeUpstream               = "upstream_failure"
)

// classifyError maps a service error to an HTTP status and response body.
func classifyError(err error) (int, datatypes.ErrorResponse) {
	resp := datatypes.ErrorResponse{Error: err.Error()}

	var (
		verr     *bounds.ValidationError
		conflict *store.LockConflictError
		prompt   *classify.ClassificationRequiredError
		fieldErr validator.ValidationErrors
	)

	switch {
	case errors.As(err, &verr):
		resp.Code = CodeValidation
		resp.Detail = map[string]any{"value": verr.Value}
		return http.StatusUnprocessableEntity, resp

	case errors.As(err, &conflict):
		resp.Code = CodeLockConflict
		resp.Detail = map[string]any{"holder": conflict.Holder}
		if conflict.Since != nil {
			resp.Detail["since"] = conflict.Since
		}
		return http.StatusConflict, resp

	case errors.As(err, &prompt):
		resp.Code = CodeClassificationRequired
		resp.Detail = map[string]any{
			"old_value": prompt.OldValue,
			"new_value": prompt.NewValue,
			"options":   []datatypes.UpdateType{datatypes.UpdatePeriod, datatypes.UpdateAdjustment},
		}
		return http.StatusPreconditionRequired, resp

	case errors.Is(err, store.ErrNotEditing):
		resp.Code = CodeNotEditing
		return http.StatusConflict, resp

	case errors.Is(err, draft.ErrNoDraft):
		resp.Code = CodeNoDraft
		return http.StatusNotFound, resp

	case errors.Is(err, store.ErrNotFound):
		resp.Code = CodeNotFound
		return http.StatusNotFound, resp

	case errors.Is(err, editor.ErrTrendUnavailable):
		resp.Code = CodeTrendUnavailable
		return http.StatusNotImplemented, resp

	case errors.As(err, &fieldErr),
		errors.Is(err, validation.ErrInvalidMetricID),
		errors.Is(err, validation.ErrInvalidActor),
		errors.Is(err, datatypes.ErrUnknownField),
		errors.Is(err, datatypes.ErrInvalidFieldValue),
		errors.Is(err, classify.ErrInvalidDecision),
		errors.Is(err, errBadRequest):
		resp.Code = CodeBadRequest
		return http.StatusBadRequest, resp

	default:
		resp.Code = CodeUpstream
		return http.StatusBadGateway, resp
	}
}

// errBadRequest marks malformed bodies and query parameters.
var errBadRequest = errors.New("bad request")

// writeError maps err to a status and writes the JSON body.
func writeError(c *gin.Context, err error) {
	status, resp := classifyError(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed",
			"path", c.FullPath(),
			"status", status,
			"error", err)
	}
	c.JSON(status, resp)
}
