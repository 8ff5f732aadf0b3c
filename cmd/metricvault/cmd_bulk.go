// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/MetricVault/pkg/ux"
	"github.com/AleutianAI/MetricVault/services/catalog/bulk"
	"github.com/AleutianAI/MetricVault/services/catalog/classify"
	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
)

// errPartialFailure makes the process exit non-zero after a printed summary.
var errPartialFailure = errors.New("one or more metrics failed")

func deciderFromFlag(raw string) (classify.Decider, error) {
	t, err := classify.ParseDecision(raw)
	if err != nil {
		return nil, err
	}
	if t == datatypes.UpdateTypeNone {
		return nil, nil
	}
	return classify.Always(t), nil
}

func runLockAll(cmd *cobra.Command, args []string) error {
	decider, err := deciderFromFlag(updateTypeFlag)
	if err != nil {
		return err
	}
	a, err := buildApp(cmd.Context(), decider)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	return reportBulk(a.service.LockAll(cmd.Context(), args, actorFlag), "locked")
}

func runUnlockAll(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	return reportBulk(a.service.UnlockAll(cmd.Context(), args, actorFlag), "unlocked")
}

func reportBulk(res bulk.Result, verb string) error {
	if jsonOutput {
		if err := writeJSON(os.Stdout, res.Response()); err != nil {
			return err
		}
	} else {
		renderBulk(ux.NewPrinter(os.Stdout), res, verb)
	}
	if res.FailCount > 0 {
		return errPartialFailure
	}
	return nil
}
