// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	// MaxBulkItems bounds the number of metric ids in one bulk or feed request.
	MaxBulkItems = 500

	// MaxNotesBytes bounds change notes stored in the version log.
	MaxNotesBytes = 2000
)

// requestValidate is shared by the request types in this file.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	if err := requestValidate.RegisterValidation("field", validateFieldName); err != nil {
		panic(fmt.Sprintf("register field validation: %v", err))
	}
}

func validateFieldName(fl validator.FieldLevel) bool {
	return Field(fl.Field().String()).Valid()
}

// SetDraftFieldRequest is the body of PUT /v1/metrics/:id/draft.
type SetDraftFieldRequest struct {
	Field string `json:"field" validate:"required,field"`
	Value any    `json:"value"`
}

// Validate checks the request shape. Value kinds are checked by CoerceValue.
func (r *SetDraftFieldRequest) Validate() error {
	return requestValidate.Struct(r)
}

// CommitRequest is the body of POST /v1/metrics/:id/commit.
//
// UpdateType answers the classification prompt. Leave it empty on the first
// attempt; the server replies 428 when a decision is needed.
type CommitRequest struct {
	UpdateType string `json:"update_type" validate:"omitempty,oneof=PERIOD_UPDATE ADJUSTMENT"`
	Notes      string `json:"notes" validate:"max=2000"`
}

// Validate checks the request shape.
func (r *CommitRequest) Validate() error {
	return requestValidate.Struct(r)
}

// BulkRequest is the body of the bulk lock/unlock endpoints.
type BulkRequest struct {
	MetricIDs []string `json:"metric_ids" validate:"required,min=1,max=500,dive,required"`
}

// Validate checks the request shape.
func (r *BulkRequest) Validate() error {
	return requestValidate.Struct(r)
}

// FeedRequest is the body of POST /v1/feed.
type FeedRequest struct {
	MetricIDs      []string `json:"metric_ids" validate:"required,min=1,max=500,dive,required"`
	PerMetricLimit int      `json:"per_metric_limit" validate:"omitempty,min=1,max=100"`
	TotalLimit     int      `json:"total_limit" validate:"omitempty,min=1,max=1000"`
}

// Validate checks the request shape.
func (r *FeedRequest) Validate() error {
	return requestValidate.Struct(r)
}

// ErrorResponse is the JSON error body of the HTTP API.
type ErrorResponse struct {
	Error  string         `json:"error"`
	Code   string         `json:"code"`
	Detail map[string]any `json:"detail,omitempty"`
}

// BulkItemResponse reports a single bulk outcome.
type BulkItemResponse struct {
	MetricID string `json:"metric_id"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// BulkResponse is the body returned by the bulk endpoints.
type BulkResponse struct {
	SuccessCount int                `json:"success_count"`
	FailCount    int                `json:"fail_count"`
	Items        []BulkItemResponse `json:"items"`
}
