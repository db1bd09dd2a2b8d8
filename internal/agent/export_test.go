// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crucible Contributors

package agent

// Hooks for package-external tests.
var (
	HasSummaryOutput = hasSummaryOutput
	ExtractFilePath  = extractFilePath
)
