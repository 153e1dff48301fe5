package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/taskweave/taskweave/config"
	"github.com/taskweave/taskweave/container"
	"github.com/taskweave/taskweave/engine"
	"github.com/taskweave/taskweave/gateway"
	"github.com/taskweave/taskweave/launch"
	"github.com/taskweave/taskweave/probe"
	"github.com/taskweave/taskweave/store"
	"github.com/taskweave/taskweave/tools"
)

// app bundles the wired components a subcommand needs, assembled once from
// a loaded Config. Grounded on haasonsaas-nexus/internal/agent/providers/
// bedrock.go's NewBedrockProvider for the AWS client construction and on
// orchestrator.go's wiring of store+launcher+engine into one place.
type app struct {
	cfg      *config.Config
	st       store.Client
	prober   *probe.Prober
	gw       *gateway.Client
	launcher *launch.Launcher
	registry *tools.Registry
	eng      *engine.Engine
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	st, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	prober := probe.New(cfg.Launch.Entrypoint)

	runtimeClient, err := newBedrockClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	gw := gateway.New(runtimeClient, st, prober)

	launcher := launch.New(st, prober, cfg.Launch.Entrypoint, cfg.Launch.WorkDir, cfg.Launch.MaxTasks)

	if spec, ok := cfg.Runtimes["container"]; ok {
		mgr, err := container.NewManager(cfg.Launch.WorkDir)
		if err != nil {
			return nil, fmt.Errorf("container manager: %w", err)
		}
		if mgr.IsAvailable() {
			rt := launch.NewContainerRuntime(mgr, spec.Image, cfg.Launch.Entrypoint)
			launcher.SetContainerExecFunc(rt.ExecFunc())
		}
	}

	registry := tools.NewRegistry()
	if err := tools.NewSpawnTaskTool(st, launcher, cfg.Models).Register(registry); err != nil {
		return nil, fmt.Errorf("register spawn_task: %w", err)
	}
	if err := tools.NewQueryTaskTool(st, gw, prober, cfg.Models).Register(registry); err != nil {
		return nil, fmt.Errorf("register query_task: %w", err)
	}
	if err := tools.RegisterThink(registry); err != nil {
		return nil, fmt.Errorf("register think: %w", err)
	}
	if err := tools.RegisterBash(registry); err != nil {
		return nil, fmt.Errorf("register bash: %w", err)
	}

	checker := func(ctx context.Context, taskID string) (bool, int, error) {
		return prober.Check(ctx, st, taskID)
	}
	janitor := launch.NewJanitor(st, checker)

	eng := engine.New(st, gw, registry, registry.Schemas(), engine.Options{Janitor: janitor})

	return &app{cfg: cfg, st: st, prober: prober, gw: gw, launcher: launcher, registry: registry, eng: eng}, nil
}

func (a *app) Close() error {
	return a.st.Close()
}

func newStore(cfg *config.Config) (store.Client, error) {
	switch cfg.Store.Backend {
	case "redis":
		return store.NewRedisStore(cfg.Store.RedisAddr), nil
	case "sqlite", "":
		return store.NewSQLiteStore(cfg.Store.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func newBedrockClient(ctx context.Context, cfg *config.Config) (*bedrockruntime.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AWS.AccessKeyID != "" && cfg.AWS.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.AWS.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, cfg.AWS.SessionToken,
			)),
		)
	} else if cfg.AWS.Profile != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.AWS.Region),
			awsconfig.WithSharedConfigProfile(cfg.AWS.Profile),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return bedrockruntime.NewFromConfig(awsCfg), nil
}
