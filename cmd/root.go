package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagespeed-auditor/internal/app"
	"github.com/JakeFAU/pagespeed-auditor/internal/config"
	"github.com/JakeFAU/pagespeed-auditor/internal/logging"
	"github.com/JakeFAU/pagespeed-auditor/internal/orchestrator"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// needsSitemap marks commands that refuse to start without a sitemap URL.
const needsSitemap = "needs-sitemap"

// App defines the application interface that commands use, so tests can
// inject a mock.
type App interface {
	Run(ctx context.Context, sitemapURL string) (orchestrator.Summary, error)
	Logger() *zap.Logger
	Close(ctx context.Context)
}

// AppFactory builds the application from the loaded configuration.
type AppFactory func(ctx context.Context, cfg config.Config) (App, error)

// newApp is the production application factory.
var newApp AppFactory = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.Build(ctx, cfg, app.Options{})
}

type appContext struct {
	app App
	cfg config.Config
}

// newRootCmd creates and configures the root command.
func newRootCmd(factory AppFactory) *cobra.Command {
	v := config.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "pagespeed",
		Short: "Bulk PageSpeed checker driven by a sitemap.",
		Long: `pagespeed measures every page listed in a sitemap with the Lighthouse CLI
and appends the results, one row per page, to a CSV report.`,
		SilenceUsage: true,

		// Builds and injects the application before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWith(v, cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if _, ok := cmd.Annotations[needsSitemap]; ok {
				if err := config.ValidateSitemap(cfg.Run.Sitemap); err != nil {
					return fmt.Errorf("--sitemap: %w", err)
				}
			}
			appInstance, err := factory(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appContext{app: appInstance, cfg: cfg})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if ac, ok := cmd.Context().Value(appKey).(appContext); ok && ac.app != nil {
				ac.app.Close(cmd.Context())
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newAuditCmd(v))
	return cmd
}

func resolveApp(ctx context.Context) (appContext, error) {
	ac, ok := ctx.Value(appKey).(appContext)
	if !ok || ac.app == nil {
		return appContext{}, errors.New("application services not initialized")
	}
	return ac, nil
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(newApp).ExecuteContext(ctx)
	stop()
	if err != nil {
		logger, lerr := logging.New(logging.Options{Development: true})
		if lerr != nil {
			fmt.Fprintf(os.Stderr, "command execution failed: %v\n", err)
			os.Exit(1)
		}
		logger.Fatal("Command execution failed", zap.Error(err))
	}
}
