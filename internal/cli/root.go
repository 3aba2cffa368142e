// Package cli implements the leostore command line
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nainya/leostore/internal/config"
	"github.com/nainya/leostore/internal/logger"
	"github.com/nainya/leostore/internal/metrics"
	"github.com/nainya/leostore/internal/service"
	"github.com/nainya/leostore/pkg/document"
	"github.com/nainya/leostore/pkg/extract"
	"github.com/nainya/leostore/pkg/rule"
	"github.com/nainya/leostore/pkg/storage"
)

// app carries the configuration shared by every command.
type app struct {
	cfg     *config.Config
	loadErr error
	log     *logger.Logger
}

// NewRootCmd builds the leostore command tree. Flags default to the LEO_* environment.
func NewRootCmd() *cobra.Command {
	a := &app{}
	a.cfg, a.loadErr = config.Load()
	if a.cfg == nil {
		a.cfg = &config.Config{}
	}

	root := &cobra.Command{
		Use:   "leostore",
		Short: "Extract records from HTML pages and keep their change history",
		Long: `leostore applies a rule tree to HTML pages, turning every page section
into a record, and stores each record as a versioned document whose
changes are kept as deltas.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.loadErr != nil {
				return a.loadErr
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			a.log = logger.InitGlobalLogger(logger.Config{
				Level:  a.cfg.LogLevel,
				Pretty: a.cfg.LogPretty,
				Output: cmd.ErrOrStderr(),
			})
			return nil
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.cfg.DBPath, "db", a.cfg.DBPath, "database file path")
	f.BoolVar(&a.cfg.DBMemory, "memory", a.cfg.DBMemory, "keep documents in memory only")
	f.StringVarP(&a.cfg.ParserPath, "parser", "p", a.cfg.ParserPath, "extraction rules file (json, yaml or toml)")
	f.StringVar(&a.cfg.Class, "class", a.cfg.Class, "document class")
	f.StringToStringVar(&a.cfg.Classes, "classes", a.cfg.Classes, "class policies, e.g. masterclass=persistent,schedule=unsteady")
	f.StringToStringVar(&a.cfg.Mapping, "mapping", a.cfg.Mapping, "projected columns of the default class, e.g. teacher.name=teacher")
	f.IntVar(&a.cfg.Workers, "workers", a.cfg.Workers, "section workers, 0 for one per CPU")
	f.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level (debug, info, warn, error)")
	f.BoolVar(&a.cfg.LogPretty, "pretty", a.cfg.LogPretty, "human readable logs")

	root.AddCommand(
		newParseCmd(a),
		newIngestCmd(a),
		newHistoryCmd(a),
		newServeCmd(a),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	root.SetOut(os.Stdout)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}

func (a *app) engine() (*extract.Engine, error) {
	if a.cfg.ParserPath == "" {
		return nil, fmt.Errorf("no parser configured: use --parser or LEO_PARSER")
	}
	p, err := rule.Load(a.cfg.ParserPath)
	if err != nil {
		return nil, err
	}
	opts := []extract.Option{extract.WithLogger(a.log.Component("extract"))}
	if a.cfg.Workers > 0 {
		opts = append(opts, extract.WithWorkers(a.cfg.Workers))
	}
	return extract.New(p, opts...)
}

// service opens the store and builds the service. The engine is optional.
func (a *app) service(needParser bool, m *metrics.Metrics) (*service.Service, storage.KV, error) {
	var engine *extract.Engine
	if needParser || a.cfg.ParserPath != "" {
		var err error
		if engine, err = a.engine(); err != nil {
			return nil, nil, err
		}
	}

	classes := []document.Class{}
	for _, name := range append([]string{a.cfg.Class}, otherClasses(a.cfg)...) {
		c, err := a.cfg.DocumentClass(name)
		if err != nil {
			return nil, nil, err
		}
		classes = append(classes, c)
	}

	kv, err := a.cfg.OpenKV()
	if err != nil {
		return nil, nil, err
	}
	svc, err := service.New(kv, engine, classes, service.WithLogger(a.log), service.WithMetrics(m))
	if err != nil {
		kv.Close()
		return nil, nil, err
	}
	return svc, kv, nil
}

func otherClasses(cfg *config.Config) []string {
	var names []string
	for name := range cfg.Classes {
		if name != cfg.Class {
			names = append(names, name)
		}
	}
	return names
}

// readInput reads a named file, or standard input for "-".
func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}
