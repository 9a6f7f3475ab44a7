package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	auth "github.com/trailblaze/trailblaze-auth"
	"github.com/trailblaze/trailblaze-auth/activitymap"
	"github.com/trailblaze/trailblaze-auth/repository"
)

func main() {
	configPath := flag.String("config", os.Getenv(auth.EnvPrefix+"CONFIG"), "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "trailblaze-auth: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := auth.DefaultLogger()

	cfg, err := auth.LoadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.GetDebug() {
		fmt.Println(print.MaybeHighlightJSON(cfg))
	}

	repo, client, err := repository.SetupPersistence(ctx, cfg.GetPersistence(), logger)
	if err != nil {
		return err
	}
	defer client.DB().Close()

	if _, err := auth.EnsureRootAccount(ctx, repo.Accounts(), auth.RootAccountOptions{
		Password: cfg.GetRootPassword(),
		Logger:   logger,
	}); err != nil {
		return err
	}

	keys, err := auth.KeyProviderFromConfig(cfg)
	if err != nil {
		return err
	}

	activity := activitymap.Sink(logger)

	tokens := auth.NewTokenService(keys, repo.ActiveTokens(), repo.Revocations(),
		auth.WithTokenTTL(cfg.GetTokenTTL()),
		auth.WithTokenIssuer(cfg.GetIssuer()),
		auth.WithTokenLogger(logger),
		auth.WithClaimsDecorator(auth.AccountProfileDecorator(repo.Accounts())),
	)

	sessions := auth.NewSessionManager(repo, auth.WithSessionLogger(logger))

	auther := auth.NewAuthenticator(repo, tokens, sessions).
		WithLogger(logger).
		WithActivitySink(activity)

	stateMachine := auth.NewAccountStateMachine(repo, sessions,
		auth.WithStateMachineLogger(logger),
		auth.WithStateMachineActivitySink(activity),
		auth.WithRemovalTokenCascade(cfg.GetRemovalRevokesTokens()),
	)

	accounts := auth.NewAccountService(repo, tokens, sessions,
		auth.WithAccountServiceLogger(logger),
		auth.WithAccountServiceActivitySink(activity),
	)

	registration := auth.NewRegisterAccountHandler(repo).
		WithLogger(logger).
		WithActivitySink(activity)

	middleware := auth.NewHTTPAuthenticator(tokens, cfg)
	middleware.Logger = logger
	middleware.Debug = cfg.GetDebug()

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:           "trailblaze-auth",
			EnablePrintRoutes: cfg.GetDebug(),
			StrictRouting:     false,
		}))
	})

	auth.RegisterAuthRoutes(srv.Router(),
		auth.WithControllerLogger(logger),
		auth.WithControllerDebug(cfg.GetDebug()),
		auth.WithControllerConfig(cfg),
		auth.WithRouteAuthenticator(middleware),
		auth.WithAuther(auther),
		auth.WithLegacyAuther(auth.NewLegacyAuthenticator(repo, auth.WithLegacyLogger(logger))),
		auth.WithSessions(sessions),
		auth.WithStateMachine(stateMachine),
		auth.WithAccountService(accounts),
		auth.WithRegistration(registration),
	)

	go sessions.RunPruner(ctx, cfg.GetPruneInterval())

	logger.Info("listening on %s", cfg.GetHTTPAddress())
	go srv.Serve(cfg.GetHTTPAddress())

	sig := WaitExitSignal()
	logger.Info("received %s, shutting down", sig)

	return nil
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
