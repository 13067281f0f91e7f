// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syntax reports syntax errors that a proposed edit would introduce.
//
// Files are parsed with tree-sitter grammars chosen by file extension. A
// file whose baseline already fails to parse gets no advice, since errors in
// the proposed text could not be told apart from the existing ones.
package syntax

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/AleutianAI/editkit/services/edits/consistency"
)

// CodeSyntaxError is the issue code of syntax advisories.
const CodeSyntaxError consistency.Code = "syntax-error"

// DefaultMaxIssues caps the advisories reported for one file.
const DefaultMaxIssues = 5

// Language names a supported grammar.
type Language string

const (
	LanguageGo         Language = "go"
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguageRust       Language = "rust"
)

// LanguageFor returns the grammar for a path, or "" when none applies.
func LanguageFor(path string) Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return LanguageGo
	case ".py", ".pyi":
		return LanguagePython
	case ".js", ".mjs", ".cjs", ".jsx":
		return LanguageJavaScript
	case ".ts", ".mts", ".cts":
		return LanguageTypeScript
	case ".rs":
		return LanguageRust
	default:
		return ""
	}
}

// Error is one ERROR or MISSING node of a parse tree.
type Error struct {
	// Line and Column are 1-based.
	Line    int
	Column  int
	Missing bool
	Near    string
}

// Checker parses text with tree-sitter.
//
// # Thread Safety
//
// Safe for concurrent use. Grammars are loaded once and shared; parsers are
// created per call.
type Checker struct {
	mu        sync.RWMutex
	langs     map[Language]*sitter.Language
	maxIssues int
}

// NewChecker creates a Checker reporting at most maxIssues advisories per
// file. maxIssues <= 0 means DefaultMaxIssues.
func NewChecker(maxIssues int) *Checker {
	if maxIssues <= 0 {
		maxIssues = DefaultMaxIssues
	}
	return &Checker{langs: make(map[Language]*sitter.Language), maxIssues: maxIssues}
}

// grammar returns the loaded grammar of lang, or nil when unsupported.
func (c *Checker) grammar(lang Language) *sitter.Language {
	c.mu.RLock()
	g := c.langs[lang]
	c.mu.RUnlock()
	if g != nil {
		return g
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if g := c.langs[lang]; g != nil {
		return g
	}
	switch lang {
	case LanguageGo:
		g = golang.GetLanguage()
	case LanguagePython:
		g = python.GetLanguage()
	case LanguageJavaScript:
		g = javascript.GetLanguage()
	case LanguageTypeScript:
		g = typescript.GetLanguage()
	case LanguageRust:
		g = rust.GetLanguage()
	default:
		return nil
	}
	c.langs[lang] = g
	return g
}

// Errors parses text as lang and returns its syntax errors in document order.
//
// # Outputs
//
//   - []Error: Empty when the text parses cleanly or lang is unsupported.
//   - error: Parse failure, including ctx cancellation.
func (c *Checker) Errors(ctx context.Context, lang Language, text string) ([]Error, error) {
	g := c.grammar(lang)
	if g == nil {
		return nil, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(g)

	content := []byte(text)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", lang, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil, nil
	}
	var errs []Error
	collect(root, content, &errs)
	return errs, nil
}

func collect(node *sitter.Node, content []byte, errs *[]Error) {
	if node.IsError() || node.IsMissing() {
		start := node.StartPoint()
		*errs = append(*errs, Error{
			Line:    int(start.Row) + 1,
			Column:  int(start.Column) + 1,
			Missing: node.IsMissing(),
			Near:    near(content, node),
		})
		// Children of an ERROR node repeat the same failure.
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		collect(node.Child(i), content, errs)
	}
}

func near(content []byte, node *sitter.Node) string {
	start, end := int(node.StartByte()), int(node.EndByte())
	end = min(end, len(content))
	if start >= end {
		return node.Type()
	}
	s, _, _ := strings.Cut(string(content[start:end]), "\n")
	if len(s) > 40 {
		s = s[:37] + "..."
	}
	return s
}

// Advisories reports syntax errors of proposed that baseline does not have.
//
// # Description
//
// Returns warn-severity issues with source "semantic" and code
// "syntax-error", at most the Checker's limit. Nothing is reported when the
// path has no grammar or the baseline itself fails to parse.
//
// # Inputs
//
//   - path: Used only to pick the grammar.
//   - rel: Copied into each issue.
//   - baseline, proposed: Text before and after the proposed edit.
func (c *Checker) Advisories(ctx context.Context, path, rel, baseline, proposed string) ([]consistency.Issue, error) {
	lang := LanguageFor(path)
	if lang == "" || baseline == proposed {
		return nil, nil
	}
	if baseline != "" {
		before, err := c.Errors(ctx, lang, baseline)
		if err != nil || len(before) > 0 {
			return nil, err
		}
	}
	after, err := c.Errors(ctx, lang, proposed)
	if err != nil {
		return nil, err
	}

	issues := make([]consistency.Issue, 0, min(len(after), c.maxIssues))
	for _, e := range after[:min(len(after), c.maxIssues)] {
		msg := fmt.Sprintf("%s proposal has a syntax error at line %d, column %d near %q", lang, e.Line, e.Column, e.Near)
		if e.Missing {
			msg = fmt.Sprintf("%s proposal is missing %q at line %d, column %d", lang, e.Near, e.Line, e.Column)
		}
		issues = append(issues, consistency.Issue{
			Severity:   consistency.SeverityWarn,
			Rel:        rel,
			Message:    msg,
			Suggestion: "review the change before applying it",
			Source:     consistency.SourceSemantic,
			Code:       CodeSyntaxError,
		})
	}
	return issues, nil
}
