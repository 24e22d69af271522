package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhangyunhao116/scriptbox"
)

// execFlags are the per-run flags of run and module.
type execFlags struct {
	payload     string
	payloadFile string
	cpu         int
	memory      int
	timeout     time.Duration
	trace       bool
	maxOutput   int64
	entry       string
}

func (f *execFlags) register(cmd *cobra.Command, def envDefaults) {
	fs := cmd.Flags()
	fs.StringVar(&f.payload, "payload", "", "JSON value bound to input_data")
	fs.StringVar(&f.payloadFile, "payload-file", "", "file holding the JSON payload")
	fs.IntVar(&f.cpu, "cpu", def.cpuSeconds, "CPU budget in seconds (0 uses the default)")
	fs.IntVar(&f.memory, "memory", def.memoryMB, "memory budget in MB (0 uses the default)")
	fs.DurationVar(&f.timeout, "timeout", def.timeout, "wall-clock limit (0 uses the default)")
	fs.BoolVar(&f.trace, "trace", false, "record a trace of the run")
	fs.Int64Var(&f.maxOutput, "max-output", def.maxOutput, "cap on captured output in bytes")
	cmd.MarkFlagsMutuallyExclusive("payload", "payload-file")
}

func (f *execFlags) options() []scriptbox.Option {
	opts := []scriptbox.Option{scriptbox.WithProfile(scriptbox.Profile{
		CPUSeconds: f.cpu,
		MemoryMB:   f.memory,
		WallClock:  f.timeout,
	})}
	if f.trace {
		opts = append(opts, scriptbox.WithTrace())
	}
	if f.maxOutput > 0 {
		opts = append(opts, scriptbox.WithMaxOutputBytes(f.maxOutput))
	}
	if f.entry != "" {
		opts = append(opts, scriptbox.WithEntry(f.entry))
	}
	return opts
}

func (f *execFlags) readPayload() (any, error) {
	data := f.payload
	if f.payloadFile != "" {
		b, err := os.ReadFile(f.payloadFile)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		data = string(b)
	}
	if strings.TrimSpace(data) == "" {
		return nil, nil
	}
	return parsePayload(data)
}

// parsePayload decodes one JSON value. Numbers stay json.Number so integers
// keep full precision.
func parsePayload(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("parse payload: trailing data after JSON value")
	}
	return v, nil
}

func runCmd(g *globalFlags, def envDefaults) *cobra.Command {
	f := &execFlags{}
	cmd := &cobra.Command{
		Use:   "run [file|-]",
		Short: "Screen and run a script",
		Long:  "Screens the script against the policy and runs it if it passes. The script is read from standard input when the file is - or omitted.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := readSource(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			payload, err := f.readPayload()
			if err != nil {
				return err
			}
			r, err := g.newRunner()
			if err != nil {
				return err
			}
			defer r.Close()
			res, err := r.Run(cmd.Context(), src, payload, f.options()...)
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), res)
		},
	}
	f.register(cmd, def)
	return cmd
}

func moduleCmd(g *globalFlags, def envDefaults) *cobra.Command {
	f := &execFlags{}
	cmd := &cobra.Command{
		Use:   "module <path>",
		Short: "Load and run a module file",
		Long:  "Runs a script file, calling its entry function with the payload when the file defines one. Files ending in .zst are decompressed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := f.readPayload()
			if err != nil {
				return err
			}
			r, err := g.newRunner()
			if err != nil {
				return err
			}
			defer r.Close()
			res, err := r.RunModule(cmd.Context(), args[0], payload, f.options()...)
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), res)
		},
	}
	f.register(cmd, def)
	cmd.Flags().StringVar(&f.entry, "entry", "", "entry function called with the payload (default execute)")
	return cmd
}

func readSource(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read script: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(b), nil
}

// writeResult prints res as JSON and turns a failed run into exit code 1.
func writeResult(w io.Writer, res scriptbox.Result) error {
	if err := writeJSON(w, res); err != nil {
		return err
	}
	if !res.OK {
		return &exitError{code: 1}
	}
	return nil
}
