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
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/editkit/services/edits"
	"github.com/AleutianAI/editkit/services/edits/consistency"
)

// withApp opens the service stack for the duration of fn.
func (o *rootOptions) withApp(ctx context.Context, fn func(*edits.Service) error) (err error) {
	a, err := o.open(ctx, false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a.svc)
}

func newPlanCmd(o *rootOptions) *cobra.Command {
	var newTextFile, patchFile string

	cmd := &cobra.Command{
		Use:   "plan <file>",
		Short: "Plan a proposed rewrite or patch against a file",
		Long: `Read the file as the baseline and split the proposal into minimal
changes. Give the proposal as a full rewrite with --new-text or as a
unified diff with --patch; "-" reads it from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (newTextFile == "") == (patchFile == "") {
				return fmt.Errorf("%w: exactly one of --new-text and --patch is required", edits.ErrInvalidRequest)
			}
			req := edits.PlanRequest{URI: args[0]}
			if newTextFile != "" {
				text, err := readInput(cmd.InOrStdin(), newTextFile)
				if err != nil {
					return err
				}
				req.NewText = &text
			} else {
				patch, err := readInput(cmd.InOrStdin(), patchFile)
				if err != nil {
					return err
				}
				req.Patch = patch
			}

			o.warnEphemeral()
			return o.withApp(cmd.Context(), func(svc *edits.Service) error {
				file, err := svc.Plan(cmd.Context(), req)
				if err != nil {
					return err
				}
				if o.jsonOut {
					return writeJSON(cmd.OutOrStdout(), file)
				}
				printFile(cmd.OutOrStdout(), file)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&newTextFile, "new-text", "", "file holding the proposed full content")
	cmd.Flags().StringVar(&patchFile, "patch", "", "file holding a unified diff")
	return cmd
}

func newCheckCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>",
		Short: "Check a planned file against its content on disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(svc *edits.Service) error {
				issues, err := svc.Check(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if o.jsonOut {
					if issues == nil {
						issues = []consistency.Issue{}
					}
					if err := writeJSON(cmd.OutOrStdout(), edits.CheckResponse{Issues: issues, Blocking: consistency.Blocking(issues)}); err != nil {
						return err
					}
				} else {
					printIssues(cmd.OutOrStdout(), issues)
				}
				if consistency.Blocking(issues) {
					return errBlocked
				}
				return nil
			})
		},
	}
}

func newApplyCmd(o *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "apply <file> [change-id...]",
		Short: "Apply selected changes of a planned file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := args[1:]
			if all == (len(ids) > 0) {
				return fmt.Errorf("%w: name change ids or pass --all", edits.ErrInvalidRequest)
			}
			return o.withApp(cmd.Context(), func(svc *edits.Service) error {
				if all {
					file, err := svc.Get(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					for _, c := range file.Changes {
						if c.Pending() {
							ids = append(ids, c.ID)
						}
					}
				}
				res, err := svc.Apply(cmd.Context(), args[0], ids)
				if err != nil {
					return err
				}
				if o.jsonOut {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				printStep(cmd.OutOrStdout(), res.Step)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "apply every pending change")
	return cmd
}

func newDiscardCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <file> <change-id>...",
		Short: "Discard pending changes of a planned file",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(svc *edits.Service) error {
				file, err := svc.Discard(cmd.Context(), args[0], args[1:])
				if err != nil {
					return err
				}
				if o.jsonOut {
					return writeJSON(cmd.OutOrStdout(), file)
				}
				printFile(cmd.OutOrStdout(), file)
				return nil
			})
		},
	}
}

func newRevertCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "revert <file>",
		Short: "Undo the last apply step of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(svc *edits.Service) error {
				rec, err := svc.Revert(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if o.jsonOut {
					return writeJSON(cmd.OutOrStdout(), rec)
				}
				fmt.Fprint(cmd.OutOrStdout(), "reverted ")
				printStep(cmd.OutOrStdout(), rec)
				return nil
			})
		},
	}
}

func newStatusCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [file]",
		Short: "Show planned files, or one file with its history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withApp(cmd.Context(), func(svc *edits.Service) error {
				ctx, out := cmd.Context(), cmd.OutOrStdout()
				if len(args) == 0 {
					files, err := svc.List(ctx)
					if err != nil {
						return err
					}
					if o.jsonOut {
						return writeJSON(out, files)
					}
					if len(files) == 0 {
						fmt.Fprintln(out, "no planned files")
						return nil
					}
					printFileTable(out, files)
					return nil
				}

				file, err := svc.Get(ctx, args[0])
				if err != nil {
					return err
				}
				steps, err := svc.History(ctx, args[0])
				if err != nil {
					return err
				}
				if o.jsonOut {
					return writeJSON(out, map[string]any{"file": file, "steps": steps})
				}
				printFile(out, file)
				fmt.Fprintf(out, "history: %d step(s)\n", len(steps))
				for _, s := range steps {
					fmt.Fprintf(out, "  #%d %s %d change(s)\n", s.Sequence, s.AppliedAt.Format("2006-01-02 15:04:05"), len(s.Step.AppliedChangeIDs))
				}
				return nil
			})
		},
	}
}
