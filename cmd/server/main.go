package main

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"syscall"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/joho/godotenv"
	"github.com/segmentio/encoding/json"

	"tree-display/internal/api"
	"tree-display/internal/config"
	"tree-display/internal/scene"
)

// Set at build.
var version = "v0.1.0"

// Keeps option names readable when the binary is obfuscated.
var _ = reflect.TypeOf(options{})

// options are the command-line overrides. Defaults come from config.Load,
// so .env and environment values apply first.
type options struct {
	Port          int    `cli:""        env:"-" help:"Listening port of the API server."`
	DebugAddr     string `cli:""        env:"-" help:"Listening address of the debug server (pprof, metrics, health)."`
	NoDebug       bool   `cli:""        env:"-" help:"Disable the debug server."`
	AreaLength    int    `cli:""        env:"-" help:"Side of the square index domain."`
	Entities      int    `cli:""        env:"-" help:"Number of generated objects."`
	MaxEntitySize int    `cli:""        env:"-" help:"Upper bound of an object radius."`
	MaxDepth      int    `cli:""        env:"-" help:"Quadtree subdivision limit."`
	GridCells     int    `cli:""        env:"-" help:"Grid cells per axis."`
	Seed          int    `cli:""        env:"-" help:"Population seed."`
	LogLevel      string `cli:""        env:"-" help:"Log level (debug|info|warning|error)."`
	LogIndent     bool   `cli:""        env:"-" help:"Indent logs."`
	Version       bool   `cli:""        env:"-" help:"Show version."`
	Help          bool   `cli:""        env:"-" help:"Show help."`
}

func main() {
	envErr := godotenv.Load(".env")

	conf := config.Load()
	opts := options{
		Port:          conf.Server.Port,
		DebugAddr:     conf.Observability.ListenAddr,
		NoDebug:       !conf.Observability.Enabled,
		AreaLength:    int(conf.Domain.AreaLength),
		Entities:      conf.Domain.NumEntities,
		MaxEntitySize: int(conf.Domain.MaxEntitySize),
		MaxDepth:      conf.Domain.MaxDepth,
		GridCells:     conf.Domain.GridCells,
		Seed:          int(conf.Domain.Seed),
		LogLevel:      conf.Observability.LogLevel,
	}

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Builds every spatial index over a generated population and serves range queries.").
		Options(&opts)
	cli.Load()

	if opts.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	logs.SetLevel(logs.ParseLevel(opts.LogLevel))
	logs.Encoder = json.Marshal
	if opts.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}
	errors.Encoder = json.Marshal

	if envErr != nil {
		logs.WithTag("path", ".env").Debug(errors.New("no .env file loaded").Wrap(envErr))
	}

	conf.Server.Port = opts.Port
	conf.Observability.ListenAddr = opts.DebugAddr
	conf.Observability.Enabled = !opts.NoDebug
	conf.Observability.LogLevel = opts.LogLevel
	conf.Domain.AreaLength = float64(opts.AreaLength)
	conf.Domain.NumEntities = opts.Entities
	conf.Domain.MaxEntitySize = float64(opts.MaxEntitySize)
	conf.Domain.MaxDepth = opts.MaxDepth
	conf.Domain.GridCells = opts.GridCells
	conf.Domain.Seed = int64(opts.Seed)

	if err := conf.Validate(); err != nil {
		logs.Fatal(err)
	}

	logs.WithTag("version", version).
		WithTag("area_length", conf.Domain.AreaLength).
		WithTag("entities", conf.Domain.NumEntities).
		WithTag("max_depth", conf.Domain.MaxDepth).
		WithTag("grid_cells", conf.Domain.GridCells).
		WithTag("seed", conf.Domain.Seed).
		Info("building indexes")

	s, err := scene.New(conf.Domain, scene.Populate(conf.Domain))
	if err != nil {
		logs.Fatal(errors.New("building scene failed").Wrap(err))
	}
	api.UpdateIndexSizes(s.Stats())

	api.StartDebugServer(ctx, conf.Observability)

	server := api.NewServer(s, conf)
	addr := fmt.Sprintf(":%d", conf.Server.Port)
	if err := server.Start(ctx, addr); err != nil {
		logs.Fatal(err)
	}
	logs.WithTag("addr", addr).Info("shutdown complete")
}
