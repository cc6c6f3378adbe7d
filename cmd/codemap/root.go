package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codemapper/codemap-mcp/internal/config"
	"github.com/codemapper/codemap-mcp/internal/indexer"
	"github.com/codemapper/codemap-mcp/internal/mcp"
	"github.com/codemapper/codemap-mcp/internal/searcher"
	"github.com/codemapper/codemap-mcp/internal/tracker"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:   "codemap",
	Short: "Source code indexing and hybrid search over MCP",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var (
	flagForce bool

	indexCmd = &cobra.Command{
		Use:   "index <path>",
		Short: "Index a codebase for search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, logger, err := buildServer()
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close() }()
			defer func() { _ = logger.Sync() }()

			result, err := srv.Indexer().Index(cmd.Context(), indexer.Request{
				CodebasePath: args[0],
				Force:        flagForce,
			})
			if err != nil {
				return err
			}
			if result.AlreadyRunning {
				return fmt.Errorf("%s", result.Message)
			}
			return printJSON(result)
		},
	}
)

var (
	flagLimit    int
	flagStrategy string
	flagExpand   bool
	flagRerank   bool

	searchCmd = &cobra.Command{
		Use:   "search <path> <query>",
		Short: "Search an indexed codebase",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, logger, err := buildServer()
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close() }()
			defer func() { _ = logger.Sync() }()

			resp, err := srv.Searcher().Search(cmd.Context(), searcher.Request{
				Query:              args[1],
				Namespace:          tracker.NamespaceFor(mustAbs(args[0])),
				Limit:              flagLimit,
				Strategy:           searcher.Strategy(flagStrategy),
				ExpandDependencies: flagExpand,
				Rerank:             flagRerank,
			})
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
)

var statusCmd = &cobra.Command{
	Use:   "status <path>",
	Short: "Show indexing status for a codebase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, logger, err := buildServer()
		if err != nil {
			return err
		}
		defer func() { _ = srv.Close() }()
		defer func() { _ = logger.Sync() }()

		status, err := srv.Indexer().Status(args[0])
		if err != nil {
			return err
		}
		return printJSON(status)
	},
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML config file")

	indexCmd.Flags().BoolVar(&flagForce, "force", false, "re-index every file ignoring change detection")

	searchCmd.Flags().IntVar(&flagLimit, "limit", 10, "maximum number of results")
	searchCmd.Flags().StringVar(&flagStrategy, "strategy", "hybrid", "retrieval strategy: hybrid, semantic, or structural")
	searchCmd.Flags().BoolVar(&flagExpand, "expand", false, "expand results through the import graph")
	searchCmd.Flags().BoolVar(&flagRerank, "rerank", false, "rerank results with the external reranker")

	rootCmd.AddCommand(serveCmd, indexCmd, searchCmd, statusCmd)
}

// runServe blocks serving MCP over stdio until a shutdown signal
func runServe() error {
	srv, logger, err := buildServer()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
		return nil
	case err := <-errChan:
		return err
	}
}

// buildServer loads configuration and wires all components
func buildServer() (*mcp.Server, *zap.Logger, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return nil, nil, err
	}

	srv, err := mcp.NewServer(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return srv, logger, nil
}

// newLogger builds a zap logger writing to stderr; stdout stays clean for
// the MCP protocol
func newLogger(debug bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if debug {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
