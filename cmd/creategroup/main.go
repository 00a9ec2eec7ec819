package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rius2g/splitgroup/pkg/bootstrap"
	"github.com/rius2g/splitgroup/pkg/config"
	gp "github.com/rius2g/splitgroup/pkg/groupProcessor"
	"github.com/rius2g/splitgroup/pkg/logging"
	t "github.com/rius2g/splitgroup/pkg/types"
)

// creategroup runs one pipeline operation against the configured networks
// and prints the result as JSON.
func main() {
	var (
		configPath   = flag.String("config", "", "path to splitgroup.yaml")
		name         = flag.String("name", "", "group name")
		participants = flag.String("participants", "", "comma separated participant addresses")
		resume       = flag.String("resume", "", "resume the flow with this id")
		members      = flag.String("members", "", "print the members of this group")
		list         = flag.Bool("list", false, "list groups of the connected account")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log := logging.Logger(ctx)

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		log.Fatalw("failed to load configuration", "error", err)
	}
	if err := logging.Init(cfg.Log.Level); err != nil {
		log.Fatalw("failed to init logger", "error", err)
	}
	log = logging.Logger(ctx)
	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to start pipeline", "error", err)
	}
	defer app.Close()

	out, err := run(ctx, app.Processor, options{
		name:         *name,
		participants: splitList(*participants),
		resume:       *resume,
		members:      *members,
		list:         *list,
	})
	if out != nil {
		printJSON(out)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, t.UserMessage(err))
		log.Errorw("operation failed", "error", err)
		app.Close()
		os.Exit(1)
	}
}

type options struct {
	name         string
	participants []string
	resume       string
	members      string
	list         bool
}

type pipeline interface {
	Members(ctx context.Context, group string) ([]common.Address, error)
	Groups(ctx context.Context, owner string) ([]t.Group, error)
	Resume(ctx context.Context, flowID string) (t.Progress, error)
	CreateGroup(ctx context.Context, req gp.CreateGroupRequest) (t.Progress, error)
}

// run returns nil output when there is nothing worth printing. A half
// finished flow is returned with its error so it can be resumed.
func run(ctx context.Context, proc pipeline, opts options) (interface{}, error) {
	switch {
	case opts.members != "":
		m, err := proc.Members(ctx, opts.members)
		if err != nil {
			return nil, err
		}
		return m, nil
	case opts.list:
		g, err := proc.Groups(ctx, "")
		if err != nil {
			return nil, err
		}
		return g, nil
	}

	var (
		p   t.Progress
		err error
	)
	if opts.resume != "" {
		p, err = proc.Resume(ctx, opts.resume)
	} else {
		p, err = proc.CreateGroup(ctx, gp.CreateGroupRequest{Name: opts.name, Participants: opts.participants})
	}
	if p.ID == "" {
		return nil, err
	}
	return p, err
}

func printJSON(v interface{}) {
	raw, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(raw))
}

func splitList(raw string) []string {
	var list []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			list = append(list, p)
		}
	}
	return list
}
