// cmd/ltid/main.go
package main

import (
	"context"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"

	api "github.com/edulinx/ltikit/internal/api/http"
	"github.com/edulinx/ltikit/internal/config"
	"github.com/edulinx/ltikit/internal/ltilog"
	"github.com/edulinx/ltikit/pkg/lti"
	"github.com/edulinx/ltikit/pkg/lti/store"
	"github.com/edulinx/ltikit/pkg/lti/store/sqlstore"
)

func main() {
	cfg := config.FromEnv()
	log := ltilog.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	db, err := sqlstore.Connect(openCtx, cfg.DBDriver, cfg.DBDSN)
	cancel()
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	defer db.Close()
	if err := sqlstore.Up(ctx, db, cfg.DBDriver); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}
	st := sqlstore.New(db)

	tool := lti.Tool{
		Title:        cfg.ToolTitle,
		Description:  cfg.ToolDescription,
		IconURL:      cfg.ToolIconURL,
		ToolID:       cfg.ToolID,
		PrivacyLevel: cfg.ToolPrivacy,
		CustomParams: cfg.ToolCustomParams,
		Navigation:   cfg.ToolNavigation,
		Domain:       cfg.PublicURL,
		RoutePrefix:  cfg.ToolRoutePrefix,
		ContactEmail: cfg.ToolContactEmail,
		HandleLaunch: homeLaunch(cfg.PublicURL),
	}

	oauth1 := &lti.OAuth1{Consumers: st, Providers: st, Nonces: st, Log: log}
	oidc := &lti.OIDC{Consumers: st, Logins: st, Tool: tool, Log: log}
	launcher := &lti.Launcher{OAuth1: oauth1, OIDC: oidc, Consumers: st, Tool: tool, Log: log}
	consumer := &lti.Consumer{
		Config: lti.ConsumerConfig{
			Domain:            cfg.PublicURL,
			RoutePrefix:       cfg.ToolRoutePrefix,
			ProductName:       cfg.ProductName,
			ProductVersion:    cfg.ProductVersion,
			DeploymentID:      cfg.DeploymentID,
			DeploymentName:    cfg.DeploymentName,
			ContactEmail:      cfg.ToolContactEmail,
			PostProviderGrade: logGrade(log),
		},
		OAuth1: oauth1,
		Log:    log,
	}
	grader := &lti.Grader{OAuth1: oauth1, OIDC: oidc, Log: log}
	registry := &lti.Registry{Store: st, Log: log}

	sweeper := &lti.Sweeper{
		Store:     st,
		Log:       log,
		Retention: cfg.SweepRetention,
		Interval:  cfg.SweepInterval,
	}
	go sweeper.Run(ctx)

	handler := api.NewRouter(api.Deps{
		Cfg:      cfg,
		Log:      log,
		Store:    st,
		OIDC:     oidc,
		Launcher: launcher,
		Consumer: consumer,
		Grader:   grader,
		Registry: registry,
		Tool:     tool,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	log.Infof("listening on %s (db=%s, launch=%s)", cfg.HTTPAddr, cfg.DBDriver, tool.LaunchURL())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
}

// homeLaunch sends validated launches to the application home page with
// the launch context in the query string. Deployments embedding the
// library replace this with their own session bootstrap.
func homeLaunch(publicURL string) func(context.Context, *lti.LaunchData, store.Consumer, *http.Request) (string, error) {
	return func(ctx context.Context, launch *lti.LaunchData, c store.Consumer, r *http.Request) (string, error) {
		q := url.Values{}
		q.Set("course", launch.CourseID)
		q.Set("assignment", launch.AssignmentID)
		q.Set("user", launch.UserLISID)
		return strings.TrimRight(publicURL, "/") + "/?" + q.Encode(), nil
	}
}

// logGrade accepts inbound Basic Outcomes grades and records them in the
// log. Embedding applications persist them instead.
func logGrade(log *logrus.Logger) func(context.Context, string, string, string, string, string, float64, *http.Request) error {
	return func(ctx context.Context, providerKey, contextKey, resourceKey, userKey, gradebookKey string, score float64, r *http.Request) error {
		ltilog.LTI(log).WithFields(logrus.Fields{
			"provider": providerKey,
			"context":  contextKey,
			"resource": resourceKey,
			"user":     userKey,
			"score":    score,
		}).Info("received provider grade")
		return nil
	}
}
