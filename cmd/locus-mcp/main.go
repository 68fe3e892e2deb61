// Command locus-mcp is the local-first code-retrieval engine: an MCP
// server plus thin maintenance subcommands.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/locussearch/locus-mcp/internal/config"
	"github.com/locussearch/locus-mcp/internal/core"
	"github.com/locussearch/locus-mcp/internal/mcp"
)

var (
	configPath string
	dataDir    string
)

func main() {
	log.SetFlags(0)
	log.SetOutput(os.Stderr)

	root := &cobra.Command{
		Use:           "locus-mcp",
		Short:         "Local-first code retrieval over MCP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override data directory")

	root.AddCommand(serveCmd(), indexCmd(), searchCmd(), projectCmd())

	if err := root.Execute(); err != nil {
		log.Printf("error: %v", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

func newCore() (*core.Core, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return core.New(cfg, core.Options{})
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tool protocol on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			srv, err := mcp.NewServer(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Printf("[SERVER] %s %s (data dir %s)", mcp.ServerName, mcp.ServerVersion, cfg.DataDir)
			return srv.Serve(ctx)
		},
	}
}

func indexCmd() *cobra.Command {
	var rebuild, dropVectors bool
	cmd := &cobra.Command{
		Use:   "index [project]",
		Short: "Catch a project's indexes up with its working tree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newCore()
			if err != nil {
				return err
			}
			defer engine.Close()

			selector := "auto"
			if len(args) > 0 {
				selector = args[0]
			}
			wd, _ := os.Getwd()

			ctx := cmd.Context()
			stats, err := func() (interface{}, error) {
				if rebuild {
					return engine.IndexRebuild(ctx, selector, wd, dropVectors)
				}
				return engine.CatchUp(ctx, selector, wd)
			}()
			if err != nil {
				return err
			}
			fmt.Printf("%+v\n", stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "drop indexes and rebuild from scratch")
	cmd.Flags().BoolVar(&dropVectors, "drop-vectors", false, "with --rebuild, also drop stored vectors")
	return cmd
}

func searchCmd() *cobra.Command {
	var k int
	var project string
	var noVector bool
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run one hybrid search and print the candidates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newCore()
			if err != nil {
				return err
			}
			defer engine.Close()

			wd, _ := os.Getwd()
			res, err := engine.RagSearch(cmd.Context(), core.SearchParams{
				Selector:   project,
				WorkingDir: wd,
				Query:      args[0],
				K:          k,
				UseVector:  !noVector,
				AutoIndex:  true,
			})
			if err != nil {
				return err
			}
			if len(res.DegradedReasons) > 0 {
				log.Printf("degraded: %v", res.DegradedReasons)
			}
			for _, c := range res.Candidates {
				fmt.Printf("%.4f  %s:%d-%d\n", c.FusedScore, c.Path, c.StartLine, c.EndLine)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top", "k", 8, "number of results")
	cmd.Flags().StringVarP(&project, "project", "p", "auto", "project selector")
	cmd.Flags().BoolVar(&noVector, "no-vector", false, "keyword search only")
	return cmd
}

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage registered projects",
	}

	add := &cobra.Command{
		Use:   "add <path> [name]",
		Short: "Register a working tree",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newCore()
			if err != nil {
				return err
			}
			defer engine.Close()

			name := "auto"
			if len(args) > 1 {
				name = args[1]
			}
			proj, err := engine.AddProject(name, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("added %s (%s) at %s\n", proj.Name, proj.ID, proj.Root)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newCore()
			if err != nil {
				return err
			}
			defer engine.Close()

			for _, p := range engine.ListProjects() {
				active := " "
				if p.Active {
					active = "*"
				}
				fmt.Printf("%s %-8s %-20s %s\n", active, p.ID, p.Name, p.Root)
			}
			return nil
		},
	}

	activate := &cobra.Command{
		Use:   "activate <selector>",
		Short: "Flag a project active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newCore()
			if err != nil {
				return err
			}
			defer engine.Close()

			proj, err := engine.ActivateProject(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("activated %s\n", proj.Name)
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <selector>",
		Short: "Unregister a project and purge its indexes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newCore()
			if err != nil {
				return err
			}
			defer engine.Close()

			proj, err := engine.RemoveProject(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("removed %s\n", proj.Name)
			return nil
		},
	}

	cmd.AddCommand(add, list, activate, remove)
	return cmd
}
