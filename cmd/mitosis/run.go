// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jllopis/mitosis/pkg/core"
	"github.com/jllopis/mitosis/pkg/errors"
	"github.com/jllopis/mitosis/pkg/orchestrator"
	"github.com/jllopis/mitosis/pkg/workflow"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var runFlags struct {
	Credential string
	Document   string
	InputFile  string
	Save       string
	Output     string
	Quiet      bool
}

var runCmd = &cobra.Command{
	Use:   "run [input]",
	Short: "Run a workflow to completion",
	Long: `Run a workflow for the given input. With no --document the factory
generates the roster from the input first. The rendered output goes to
stdout (or --output); the live trace goes to stderr on a terminal.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := readInput(args, runFlags.InputFile, cmd.InOrStdin())
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		if runFlags.Document != "" {
			doc, err := workflow.LoadDocument(runFlags.Document)
			if err != nil {
				return err
			}
			if err := a.orch.Import(cmd.Context(), doc); err != nil {
				return err
			}
		}

		if !runFlags.Quiet && !global.JSON && isatty.IsTerminal(os.Stderr.Fd()) {
			a.events.Add(traceWriter(cmd.ErrOrStderr()))
		}

		credential := runFlags.Credential
		if credential == "" {
			credential = cfg.LLM.APIKey
		}
		res, runErr := a.orch.Run(cmd.Context(), input, credential)
		if res == nil {
			return runErr
		}

		if runFlags.Save != "" && runErr == nil {
			rec, err := a.orch.SaveRecord(context.WithoutCancel(cmd.Context()), runFlags.Save)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "saved record %s (%s)\n", rec.Name, rec.ID)
		}

		if err := writeResult(cmd.OutOrStdout(), res); err != nil {
			return err
		}
		return runErr
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.Credential, "credential", "", "Completion API key (defaults to llm.api_key)")
	f.StringVar(&runFlags.Document, "document", "", "Workflow document (JSON or YAML) to load before running")
	f.StringVarP(&runFlags.InputFile, "input-file", "f", "", "Read the input from a file ('-' for stdin)")
	f.StringVar(&runFlags.Save, "save", "", "Save the roster as a record with this name after a successful run")
	f.StringVarP(&runFlags.Output, "output", "o", "", "Write the rendered output to a file")
	f.BoolVarP(&runFlags.Quiet, "quiet", "q", false, "Do not print the live trace")
}

func readInput(args []string, path string, stdin io.Reader) (string, error) {
	switch {
	case len(args) == 1 && path != "":
		return "", errors.NewInvalidInputError("pass the input as an argument or with --input-file, not both")
	case len(args) == 1:
		return args[0], nil
	case path == "-":
		data, err := io.ReadAll(stdin)
		return strings.TrimSpace(string(data)), err
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", errors.New(errors.CodeInvalidInput, "cannot read input file", err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", errors.NewInvalidInputError("an input is required")
	}
}

func writeResult(stdout io.Writer, res *orchestrator.Result) error {
	if global.JSON {
		out := map[string]any{
			"runId":  res.RunID,
			"state":  res.State,
			"steps":  res.Steps,
			"clones": res.Clones,
			"output": res.Output,
			"trace":  res.Trace,
		}
		if res.Err != nil {
			out["error"] = errors.As(res.Err)
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	if runFlags.Output != "" {
		if err := os.WriteFile(runFlags.Output, []byte(res.Output), 0o644); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s: %d steps, output written to %s\n", res.State, res.Steps, runFlags.Output)
		return nil
	}
	_, err := io.WriteString(stdout, res.Output)
	return err
}

// traceWriter prints trace lines as they are emitted.
func traceWriter(w io.Writer) core.EventEmitter {
	return core.EmitterFunc(func(_ context.Context, ev core.Event) {
		if ev.Type == core.EventTrace {
			fmt.Fprintf(w, "» %s\n", ev.Message)
		}
	})
}
