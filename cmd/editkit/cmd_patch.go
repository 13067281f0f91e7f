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
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/editkit/services/edits"
	"github.com/AleutianAI/editkit/services/edits/diff"
)

func newApplyPatchCmd(o *rootOptions) *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "apply-patch <file> [patch-file|-]",
		Short: "Apply a single-file unified diff to a file",
		Long: `Apply a unified diff to a file. Hunks are located near their declared
lines within the configured fuzz window, and hunks that are already
present are skipped, so applying a patch twice is harmless.

The result is printed unless --write is given. The patch is read from
stdin when no patch file is named.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			committer, err := o.committer()
			if err != nil {
				return err
			}
			path, _, err := committer.Resolve(args[0])
			if err != nil {
				return err
			}
			original, err := committer.Read(ctx, path)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			source := "-"
			if len(args) == 2 {
				source = args[1]
			}
			patch, err := readInput(cmd.InOrStdin(), source)
			if err != nil {
				return err
			}

			res, _, err := o.engine().ApplyRawPatchDetailed(original, patch)
			if err != nil {
				return err
			}
			for _, h := range res.Hunks {
				o.logger.Debug("Hunk placed",
					"index", h.Index,
					"outcome", string(h.Outcome),
					"line", h.Line,
					"offset", h.Offset)
			}

			if o.jsonOut {
				if err := writeJSON(cmd.OutOrStdout(), edits.ApplyPatchResponse{Text: res.Text, Hunks: res.Hunks}); err != nil {
					return err
				}
			} else if !write {
				fmt.Fprint(cmd.OutOrStdout(), res.Text)
			}
			if !write {
				return nil
			}
			if !res.Changed() {
				o.logger.Info("Patch is already applied", "path", path)
				return nil
			}
			if err := committer.Write(ctx, path, original, res.Text); err != nil {
				return err
			}
			o.logger.Info("Patched file", "path", path, "hunks", len(res.Hunks))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "write the result back to the file")
	return cmd
}

func newDiffCmd(o *rootOptions) *cobra.Command {
	var (
		contextLines int
		color        string
	)

	cmd := &cobra.Command{
		Use:   "diff <old-file> <new-file>",
		Short: "Print the unified diff between two files",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldText, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			newText, err := readInput(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}

			hunks := diff.Generate(oldText, newText, contextLines)
			out, err := diff.Format(filepath.ToSlash(args[1]), hunks)
			if err != nil {
				return err
			}
			if o.jsonOut {
				added, removed := diff.Stats(hunks)
				return writeJSON(cmd.OutOrStdout(), edits.PreviewResponse{Diff: out, Added: added, Removed: removed})
			}
			if useColor(color, cmd.OutOrStdout()) {
				out = newDiffStyles(cmd.OutOrStdout()).colorize(out)
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().IntVarP(&contextLines, "unified", "U", diff.DefaultContextLines, "lines of context")
	cmd.Flags().StringVar(&color, "color", "auto", "colorize output: auto, always or never")
	return cmd
}
