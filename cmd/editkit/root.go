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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/editkit/services/edits/config"
	"github.com/AleutianAI/editkit/services/edits/telemetry"
)

// rootOptions holds the persistent flags and the configuration they produce.
type rootOptions struct {
	configPath   string
	root         string
	logLevel     string
	logFormat    string
	storeBackend string
	jsonOut      bool

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "editkit",
		Short: "Plan, check and apply proposed edits to files",
		Long: `editkit turns proposed edits (full rewrites or unified diffs) into
minimal changes, checks them against the files on disk, and applies
selected changes with verified atomic writes.

Proposals and apply history live in the configured store. Use the badger
store to keep them between invocations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "config file (default ~/.editkit/editkit.yaml)")
	f.StringVar(&opts.root, "root", "", "workspace root that confines file access")
	f.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	f.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	f.StringVar(&opts.storeBackend, "store", "", "proposal store: memory or badger")
	f.BoolVar(&opts.jsonOut, "json", false, "print results as JSON")

	cmd.AddCommand(
		newApplyPatchCmd(opts),
		newDiffCmd(opts),
		newPlanCmd(opts),
		newCheckCmd(opts),
		newApplyCmd(opts),
		newDiscardCmd(opts),
		newRevertCmd(opts),
		newStatusCmd(opts),
		newServeCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

// load resolves configuration: file, then environment, then flags.
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.root != "" {
		cfg.Commit.Root = o.root
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if o.storeBackend != "" {
		cfg.Store.Backend = o.storeBackend
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	o.cfg = cfg
	o.logger = telemetry.NewLogger(cmd.ErrOrStderr(), cfg.Log.Format, cfg.Log.Level)
	slog.SetDefault(o.logger)
	return nil
}
