package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sige/internal/api"
	"sige/internal/boot"
	"sige/internal/catalog"
	"sige/internal/config"
	"sige/internal/logging"
	"sige/internal/pg"
	"sige/internal/plan"
	"sige/internal/probe"
)

var (
	flagDatabaseURL   string
	flagDefaultTenant int64
)

func main() {
	root := &cobra.Command{
		Use:           "sige",
		Short:         "Схемный раннер SIGE: каталог, план, миграции, probe",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagDatabaseURL, "database-url", "", "строка подключения Postgres (поверх DATABASE_URL)")
	root.PersistentFlags().Int64Var(&flagDefaultTenant, "default-tenant", 0, "tenant для default_tenant-бэкфиллов (поверх MIGRATION_DEFAULT_TENANT_ID)")

	root.AddCommand(migrateCmd(), planCmd(), inspectCmd(), probeCmd(), serveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadAll: конфиг (env + флаги) → логгер → каталог → пул.
func loadAll() (config.Config, *zap.Logger, *catalog.Catalog, error) {
	cfg := config.Load()
	if flagDatabaseURL != "" {
		cfg.DatabaseURL = flagDatabaseURL
	}
	if flagDefaultTenant != 0 {
		cfg.DefaultTenantID = flagDefaultTenant
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return cfg, nil, nil, err
	}
	cat, err := catalog.Load()
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("catalog: %w", err)
	}
	return cfg, log, cat, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Сверить базу с каталогом и применить недостающие юниты",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, cat, err := loadAll()
			if err != nil {
				return err
			}
			defer log.Sync()
			db, err := pg.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			res, err := boot.Bootstrap(cmd.Context(), db, cat, cfg, log)
			if res != nil && res.Probe != nil {
				fmt.Print(res.Probe.Render())
			}
			return err
		},
	}
}

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Показать план сверки без исполнения",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, cat, err := loadAll()
			if err != nil {
				return err
			}
			defer log.Sync()
			db, err := pg.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			obs, err := pg.Inspect(cmd.Context(), db)
			if err != nil {
				return err
			}
			p, err := plan.Build(cat, obs, plan.Options{DefaultTenantID: cfg.DefaultTenantID})
			if err != nil {
				return err
			}
			if p.Empty() {
				fmt.Println("plan: nothing to do")
				return nil
			}
			for _, u := range p.Units {
				fmt.Printf("unit %03d %s (%d steps)\n", u.Number, u.Name, len(u.Steps))
				for _, s := range u.Steps {
					fmt.Printf("  %s\n", s.String())
				}
			}
			return nil
		},
	}
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Выгрузить наблюдаемую схему из information_schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, _, err := loadAll()
			if err != nil {
				return err
			}
			defer log.Sync()
			db, err := pg.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			obs, err := pg.Inspect(cmd.Context(), db)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(obs.Tables))
			for name := range obs.Tables {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				t := obs.Tables[name]
				fmt.Printf("%s: %d columns, %d fks, %d indexes\n",
					name, len(t.Columns), len(t.ForeignKeys), len(t.Indexes))
			}
			return nil
		},
	}
}

func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Read-only проверка покрытия; exit 1 если база нездорова",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, cat, err := loadAll()
			if err != nil {
				return err
			}
			defer log.Sync()
			db, err := pg.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			rep, err := probe.Run(cmd.Context(), db, cat)
			if err != nil {
				return err
			}
			fmt.Print(rep.Render())
			if !rep.OK {
				return fmt.Errorf("probe reported unhealthy tables")
			}
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Бутстрап (миграции + probe), затем диагностический HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, cat, err := loadAll()
			if err != nil {
				return err
			}
			defer log.Sync()
			db, err := pg.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			if _, err := boot.Bootstrap(cmd.Context(), db, cat, cfg, log); err != nil {
				return err
			}
			log.Info("listening", zap.String("port", cfg.Port))
			return api.RunServer(":"+cfg.Port, db, cat, cfg)
		},
	}
}
