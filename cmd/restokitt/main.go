package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/kittclouds/restokitt/internal/app"
	"github.com/kittclouds/restokitt/internal/config"
	log "github.com/sirupsen/logrus"
)

const iniFilename = "restokitt.ini"

// Config is the top-level configuration of the restokitt binary.
var Config = new(config.Config)

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	config.AddPrintConfigCmd(parser, iniFilename)

	parser.LongDescription = `restokitt is the offline-first core of a restaurant directory.

	It caches restaurants and reviews of a REST backend in local databases,
	queues writes made while the backend is unreachable and replays them on
	reconnection, and serves the app shell from versioned asset caches.

	Optionally configure restokitt with a '` + iniFilename + `' file in the current working directory,
	or with '~/.config/restokitt/` + iniFilename + `'. Sections are option groups and keys are
	long option names without their namespace, for example:

	  [Assets]
	  version = v5

	  [Connectivity]
	  probe-interval = 1m

	Use the 'print-config' sub-command to inspect the tool's current configuration.
	`

	mustAddCmd(parser.Command, "serve", "Serve the app shell through the asset caches", `
Serve the app shell and restaurant images of --assets.origin through the
versioned asset caches, installing and activating the current generation
first. Prometheus metrics are served at /metrics. The backend is probed every
--connectivity.probe-interval, and queued writes are replayed when it becomes
reachable again.
`, &cmdServe{})

	mustAddCmd(parser.Command, "sync", "Replay queued writes and refresh restaurants", `
Replay writes queued while the backend was unreachable, then refresh the
local restaurants and facets from the backend.
`, &cmdSync{})

	mustAddCmd(parser.Command, "list", "List restaurants", `
List restaurants, local-first. Use --cuisine and --neighborhood to filter.
`, &cmdList{})

	mustAddCmd(parser.Command, "reviews", "List reviews of a restaurant", "", &cmdReviews{})
	mustAddCmd(parser.Command, "favorite", "Mark a restaurant as favorite", `
Mark restaurant --id as favorite, or not with --off. The change is queued if
the backend cannot be reached.
`, &cmdFavorite{})
	mustAddCmd(parser.Command, "review", "Submit a review", `
Submit a review of restaurant --id. The review is queued if the backend cannot
be reached.
`, &cmdReview{})
	mustAddCmd(parser.Command, "search", "Search restaurants by keyword", "", &cmdSearch{})
	mustAddCmd(parser.Command, "nearby", "List restaurants near another", "", &cmdNearby{})
	mustAddCmd(parser.Command, "queue", "List queued writes", "", &cmdQueue{})
	mustAddCmd(parser.Command, "cache-stats", "Show asset cache and queue sizes", "", &cmdCacheStats{})

	config.MustParseConfig(parser, iniFilename)
}

func mustAddCmd(cmd *flags.Command, name, short, long string, cfg interface{}) *flags.Command {
	cmd, err := cmd.AddCommand(name, short, long, cfg)
	config.Must(err, "failed to add command")
	return cmd
}

// startup initializes logging and builds the App.
func startup(deps app.Deps) (context.Context, context.CancelFunc, *app.App) {
	config.InitLog(Config.Log)

	if Config.Store.Dir == "" {
		log.Warn("no --store.dir given, databases are kept in memory")
	}

	var ctx, cancel = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	a, err := app.New(ctx, Config, deps)
	config.Must(err, "failed to initialize", "backend", Config.Backend.URL)
	return ctx, cancel, a
}

// shutdown closes |a| and cancels its context.
func shutdown(cancel context.CancelFunc, a *app.App) {
	if err := a.Close(); err != nil {
		log.WithField("err", err).Warn("failed to close app")
	}
	cancel()
}

var stdout = os.Stdout
