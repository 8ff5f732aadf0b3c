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
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/MetricVault/pkg/ux"
	"github.com/AleutianAI/MetricVault/services/catalog/bulk"
	"github.com/AleutianAI/MetricVault/services/catalog/datatypes"
)

const timeLayout = "2006-01-02 15:04"

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderFeed(p *ux.Printer, feed []datatypes.ChangeFeedEntry) {
	if len(feed) == 0 {
		p.Info("no changes recorded")
		return
	}
	p.Title("Change feed")
	rows := make([][]string, 0, len(feed))
	for _, e := range feed {
		rows = append(rows, []string{
			e.Timestamp.UTC().Format(timeLayout),
			e.MetricID,
			fmt.Sprintf("v%d", e.VersionNumber),
			string(e.Field),
			e.OldValue.String() + " " + string(ux.IconArrow) + " " + e.NewValue.String(),
			e.ChangedBy,
			updateLabel(e.UpdateType),
		})
	}
	p.Table([]string{"WHEN", "METRIC", "VERSION", "FIELD", "CHANGE", "BY", "TYPE"}, rows)
}

func renderVersions(p *ux.Printer, metricID string, versions []datatypes.MetricVersion) {
	if len(versions) == 0 {
		p.Info("no versions of " + metricID)
		return
	}
	p.Title("Versions of " + metricID)
	rows := make([][]string, 0, len(versions))
	for _, v := range versions {
		fields := make([]string, len(v.ChangedFields))
		for i, f := range v.ChangedFields {
			fields[i] = string(f)
		}
		rows = append(rows, []string{
			fmt.Sprintf("v%d", v.VersionNumber),
			v.CreatedAt.UTC().Format(timeLayout),
			v.ChangedBy,
			string(v.ChangeSource),
			updateLabel(v.UpdateType),
			strings.Join(fields, ","),
			v.ChangeNotes,
		})
	}
	p.Table([]string{"VERSION", "WHEN", "BY", "SOURCE", "TYPE", "FIELDS", "NOTES"}, rows)
}

func renderBulk(p *ux.Printer, res bulk.Result, verb string) {
	for _, item := range res.Items {
		if item.OK() {
			p.Success(verb + " " + item.MetricID)
		} else {
			p.Error(item.MetricID + ": " + item.Err.Error())
		}
	}
	p.Info(fmt.Sprintf("%d succeeded, %d failed", res.SuccessCount, res.FailCount))
}

func updateLabel(t datatypes.UpdateType) string {
	if t == datatypes.UpdateTypeNone {
		return "-"
	}
	return string(t)
}
