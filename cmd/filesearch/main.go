// Command filesearch is a thin CLI over the indexing core: it loads
// configuration, opens the Store, wires up a Coordinator, and exposes its
// operations directly. It intentionally does not speak the
// Everything-compatible HTTP query protocol; that wire surface is a
// separate concern layered on top of the Coordinator's Go API.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/brightframe/filesearch/internal/config"
	"github.com/brightframe/filesearch/internal/coordinator"
	"github.com/brightframe/filesearch/internal/ignore"
	"github.com/brightframe/filesearch/internal/logx"
	"github.com/brightframe/filesearch/internal/scanner"
	"github.com/brightframe/filesearch/internal/store"
	"github.com/brightframe/filesearch/internal/watcher"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "filesearch",
		Short: "Local filesystem index and search core",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "/etc/filesearch/config.yaml", "path to configuration file")

	root.AddCommand(
		newAddRootCmd(),
		newRemoveRootCmd(),
		newRebuildCmd(),
		newListRootsCmd(),
		newStatusCmd(),
		newSearchCmd(),
		newIgnoreCmd(),
		newConfigCmd(),
	)
	return root
}

// coordinatorDeps bundles everything built from config that every
// subcommand needs; each subcommand opens and closes its own Store so no
// state leaks between invocations.
type coordinatorDeps struct {
	cfg    *config.Config
	db     *store.DB
	st     *store.Store
	ign    *ignore.Registry
	coord  *coordinator.Coordinator
	closer func() error
}

func openDeps(ctx context.Context) (*coordinatorDeps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logx.Init(logx.Config{Level: logx.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

	db, err := store.Open(cfg.DatabasePath, store.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	st := store.NewStore(db)

	ign := ignore.NewRegistry(nil)
	persisted, err := st.ListIgnorePatterns(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load ignore patterns: %w", err)
	}
	if len(persisted) == 0 {
		if err := ign.AddDefaults(cfg.DefaultIgnores); err != nil {
			db.Close()
			return nil, fmt.Errorf("seed default ignores: %w", err)
		}
		for _, p := range ign.Current().Patterns() {
			_ = st.InsertIgnorePattern(ctx, p)
		}
	} else {
		for _, p := range persisted {
			_ = ign.Add(p)
		}
	}

	scannerCfg := scanner.Config{
		Workers:   cfg.ScanWorkers,
		QueueSize: cfg.ScanQueueSize,
		BatchSize: cfg.ScanBatchSize,
	}
	watcherCfg := watcher.Config{
		Debounce: durationMillis(cfg.DebounceMillis),
	}
	coord := coordinator.New(st, ign, scannerCfg, watcherCfg)

	return &coordinatorDeps{
		cfg: cfg, db: db, st: st, ign: ign, coord: coord,
		closer: db.Close,
	}, nil
}

func newAddRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-root <path>",
		Short: "Register and scan a new watched root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := openDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.closer()
			return deps.coord.AddRoot(cmd.Context(), args[0])
		},
	}
}

func newRemoveRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-root <path>",
		Short: "Stop watching a root and drop its index entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := openDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.closer()
			return deps.coord.RemoveRoot(cmd.Context(), args[0])
		},
	}
}

func newRebuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild <path>",
		Short: "Clear and re-scan a watched root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := openDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.closer()
			return deps.coord.Rebuild(cmd.Context(), args[0])
		},
	}
}

func newListRootsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-roots",
		Short: "List every registered watch root",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := openDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.closer()

			roots, err := deps.coord.ListRoots(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range roots {
				fmt.Printf("%s\tstatus=%s\tindexed=%d/%d\n", r.Path, r.Status, r.IndexedFiles, r.TotalFiles)
			}
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show registered roots and readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := openDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.closer()

			status, err := deps.coord.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("ready: %v\n", status.Ready)
			for _, r := range status.Roots {
				fmt.Printf("  %s\tstatus=%s\tindexed=%d/%d\n", r.Path, r.Status, r.IndexedFiles, r.TotalFiles)
			}
			return nil
		},
	}
}

func newSearchCmd() *cobra.Command {
	var rootPrefix, kind, sort string
	var ascending bool
	var offset, limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := openDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer deps.closer()

			result, err := deps.coord.Search(cmd.Context(), store.SearchQuery{
				Query:      args[0],
				RootPrefix: rootPrefix,
				Kind:       store.KindFilter(kind),
				Sort:       store.SortKey(sort),
				Ascending:  ascending,
				Offset:     offset,
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			fmt.Printf("total: %d\n", result.Total)
			for _, e := range result.Entries {
				fmt.Printf("%s\t%s\t%d\n", e.Kind, e.Path, e.Size)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rootPrefix, "root", "", "restrict results to this root prefix")
	cmd.Flags().StringVar(&kind, "kind", "all", "file, directory, or all")
	cmd.Flags().StringVar(&sort, "sort", "name", "name, path, size, or date_modified")
	cmd.Flags().BoolVar(&ascending, "asc", true, "sort ascending")
	cmd.Flags().IntVar(&offset, "offset", 0, "result offset")
	cmd.Flags().IntVar(&limit, "limit", 100, "result page size")
	return cmd
}

func newIgnoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ignore",
		Short: "Manage ignore patterns",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:  "add <pattern>",
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				deps, err := openDeps(cmd.Context())
				if err != nil {
					return err
				}
				defer deps.closer()
				return deps.coord.AddIgnore(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:  "remove <pattern>",
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				deps, err := openDeps(cmd.Context())
				if err != nil {
					return err
				}
				defer deps.closer()
				return deps.coord.RemoveIgnore(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:  "list",
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				deps, err := openDeps(cmd.Context())
				if err != nil {
					return err
				}
				defer deps.closer()
				for _, p := range deps.coord.ListIgnores() {
					fmt.Println(p)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "add-defaults",
			Short: "Add the built-in default ignore patterns",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				deps, err := openDeps(cmd.Context())
				if err != nil {
					return err
				}
				defer deps.closer()
				return deps.coord.AddDefaultIgnores(cmd.Context(), config.DefaultIgnorePatterns)
			},
		},
	)
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialize the configuration file",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:  "show",
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				fmt.Printf("%+v\n", cfg)
				return nil
			},
		},
		&cobra.Command{
			Use:  "init",
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return config.Default().Save(configPath)
			},
		},
		&cobra.Command{
			Use:  "validate",
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				return cfg.Validate()
			},
		},
	)
	return cmd
}

func durationMillis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
