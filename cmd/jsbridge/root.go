// Copyright 2026 Redpanda Data, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/redpanda-data/common-go/jsbridge"
	"github.com/redpanda-data/common-go/jsbridge/config"
	"github.com/redpanda-data/common-go/jsbridge/internal/log"
	"github.com/redpanda-data/common-go/jsbridge/scripting"
)

type rootOptions struct {
	configFile string
	plugin     string
	timeout    time.Duration
	maxMemory  uint32
	cacheSize  int
	verbose    bool

	cfg    config.Config
	logger logr.Logger
}

func rootCmd() *cobra.Command {
	var opts rootOptions

	root := &cobra.Command{
		Use:          "jsbridge",
		Long:         "jsbridge compiles and runs JavaScript in a sandbox.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.complete(cmd)
		},
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML configuration file.")
	root.PersistentFlags().StringVar(&opts.plugin, "plugin", "", "WebAssembly JavaScript plugin. The embedded interpreter is used when empty.")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "Execution timeout, 0 for none.")
	root.PersistentFlags().Uint32Var(&opts.maxMemory, "max-memory", 0, "Sandbox memory limit in bytes.")
	root.PersistentFlags().IntVar(&opts.cacheSize, "cache-size", 0, "Bytecode cache entries, 0 for unbounded.")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug messages.")

	root.AddCommand(
		runCmd(&opts),
		compileCmd(&opts),
		execCmd(&opts),
		evalCmd(&opts),
	)
	return root
}

// complete loads the config file and applies flags set on the command line
// on top of it.
func (o *rootOptions) complete(cmd *cobra.Command) error {
	o.cfg = config.Default()
	if o.configFile != "" {
		cfg, err := config.LoadFromFile(o.configFile)
		if err != nil {
			return err
		}
		o.cfg = cfg
	}

	flags := cmd.Flags()
	if flags.Changed("plugin") {
		o.cfg.Plugin = o.plugin
	}
	if flags.Changed("timeout") {
		o.cfg.Timeout = o.timeout
	}
	if flags.Changed("max-memory") {
		o.cfg.MaxMemory = o.maxMemory
	}
	if flags.Changed("cache-size") {
		o.cfg.Cache.Size = o.cacheSize
	}
	if err := o.cfg.Validate(); err != nil {
		return err
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if o.verbose {
		// logr verbosity 1 maps to zap level -1.
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-1))
	}
	zl, err := zcfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return errors.Wrap(err, "build logger")
	}
	o.logger = zapr.NewLogger(zl)
	log.SetGlobals(o.logger)
	return nil
}

// withEngine runs fn on an engine built from the options and releases it.
func (o *rootOptions) withEngine(ctx context.Context, fn func(*jsbridge.Engine) error) (err error) {
	backend, engineOpts, err := o.backend(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errors.CombineErrors(err, backend.Close(ctx)) }()

	e, err := jsbridge.New(ctx, backend.Factory, engineOpts...)
	if err != nil {
		return err
	}
	defer func() { err = errors.CombineErrors(err, e.Close(ctx)) }()
	return fn(e)
}

func (o *rootOptions) backend(ctx context.Context) (*config.Backend, []jsbridge.Option, error) {
	backend, err := o.cfg.Backend(ctx)
	if err != nil {
		return nil, nil, err
	}
	engineOpts, err := o.cfg.EngineOptions()
	if err != nil {
		return nil, nil, errors.CombineErrors(err, backend.Close(ctx))
	}
	return backend, append(engineOpts, jsbridge.WithLogger(o.logger)), nil
}

// flush copies what the engine captured to the command streams.
func flush(cmd *cobra.Command, e *jsbridge.Engine) {
	fmt.Fprint(cmd.OutOrStdout(), e.Stdout())
	fmt.Fprint(cmd.ErrOrStderr(), e.Stderr())
}

func runCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "run <script.js>",
		Short:   "Compile and run a script.",
		Example: "jsbridge run hello.js --timeout 5s",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return o.withEngine(cmd.Context(), func(e *jsbridge.Engine) error {
				defer flush(cmd, e)
				return e.CompileAndExec(cmd.Context(), src)
			})
		},
	}
}

func compileCmd(o *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:     "compile <script.js>",
		Short:   "Compile a script to bytecode.",
		Example: "jsbridge compile hello.js -o hello.bc",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return o.withEngine(cmd.Context(), func(e *jsbridge.Engine) error {
				bc, err := e.Compile(cmd.Context(), src)
				if err != nil {
					return err
				}
				if output == "" {
					_, err = cmd.OutOrStdout().Write(bc)
					return err
				}
				return os.WriteFile(output, bc, 0o644)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Bytecode output file. Standard output when empty.")
	return cmd
}

func execCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "exec <script.bc>",
		Short:   "Run bytecode produced by compile with the same backend.",
		Example: "jsbridge exec hello.bc",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bc, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return o.withEngine(cmd.Context(), func(e *jsbridge.Engine) error {
				defer flush(cmd, e)
				return e.Exec(cmd.Context(), bc)
			})
		},
	}
}

func evalCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "eval <expression>",
		Short:   "Evaluate an expression and print its value as JSON.",
		Example: `jsbridge eval '[1, 2, 3].map((x) => x * 2)'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			backend, engineOpts, err := o.backend(ctx)
			if err != nil {
				return err
			}
			defer func() { err = errors.CombineErrors(err, backend.Close(ctx)) }()

			s, err := scripting.New(ctx, backend.Factory, engineOpts...)
			if err != nil {
				return err
			}
			defer func() { err = errors.CombineErrors(err, s.Close(ctx)) }()

			v, err := s.Eval(ctx, args[0], nil)
			fmt.Fprint(cmd.ErrOrStderr(), s.Stderr())
			fmt.Fprint(cmd.OutOrStdout(), s.Stdout())
			if err != nil {
				return err
			}
			out, err := json.Marshal(v)
			if err != nil {
				return errors.Wrap(err, "encode result")
			}
			_, err = cmd.OutOrStdout().Write(append(out, '\n'))
			return err
		},
	}
}
