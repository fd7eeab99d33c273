// Package cli implements the ddb command line.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Ning0612/ddb/internal/catalog"
	"github.com/Ning0612/ddb/internal/config"
	"github.com/Ning0612/ddb/internal/engine"
	"github.com/Ning0612/ddb/internal/logger"
)

// OutputFormat selects how results are printed.
type OutputFormat string

const (
	JSON OutputFormat = "json"
	YAML OutputFormat = "yaml"
	Text OutputFormat = "text"
)

type options struct {
	configFile string
	logLevel   string
	format     string
	dir        string
	metricsOut string

	rt *engine.Runtime
}

// New returns the root command.
func New() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:               "ddb",
		Short:             "ddb indexes directories of geospatial data into catalogs",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return opts.teardown()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "configuration file location")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "the logging verbosity, overrides the configuration")
	cmd.PersistentFlags().StringVarP(&opts.format, "format", "f", string(Text), "output format: text, json or yaml")
	cmd.PersistentFlags().StringVarP(&opts.dir, "dir", "C", ".", "catalog root")
	cmd.PersistentFlags().StringVar(&opts.metricsOut, "metrics-out", "", "write metrics in text exposition format to this file on exit")

	addEntryCommands(cmd, opts)
	addMetaCommands(cmd, opts)
	addCatalogCommands(cmd, opts)
	addBuildCommands(cmd, opts)
	return cmd
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := New()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

func (o *options) setup(cmd *cobra.Command, _ []string) error {
	switch OutputFormat(o.format) {
	case JSON, YAML, Text:
	default:
		return fmt.Errorf("unsupported output format %q", o.format)
	}

	cfg, err := config.LoadOrDefault(o.configFile)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}

	if err := logger.Shutdown(); err != nil {
		return err
	}
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return err
	}

	engine.Shutdown()
	o.rt, err = engine.Register(engine.Options{Config: cfg, Logger: logger.Get()})
	return err
}

func (o *options) teardown() error {
	if o.metricsOut != "" && o.rt != nil {
		f, err := os.Create(o.metricsOut)
		if err != nil {
			return err
		}
		if err := o.rt.Metrics.WriteText(f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return logger.Sync()
}

// open opens the catalog selected by --dir.
func (o *options) open(cmd *cobra.Command) (*catalog.Catalog, error) {
	return catalog.Open(cmd.Context(), o.dir)
}

// print writes v in the selected format. text renders the text format;
// nil prints v as JSON there too.
func (o *options) print(cmd *cobra.Command, v any, text func(w io.Writer) error) error {
	w := cmd.OutOrStdout()
	switch OutputFormat(o.format) {
	case Text:
		if text != nil {
			return text(w)
		}
		fallthrough
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case YAML:
		return writeYAML(w, v)
	}
	return fmt.Errorf("unsupported output format %q", o.format)
}

// writeYAML goes through JSON so custom marshalers and key order are kept.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return err
	}
	blockStyle(&node)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}

func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
