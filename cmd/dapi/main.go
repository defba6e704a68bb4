package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"

	dapi "github.com/goliatone/go-dapi"
	"github.com/goliatone/go-dapi/config"
	"github.com/goliatone/go-dapi/transport"
)

const shutdownTimeout = 5 * time.Second

// Globals are the flags shared by every command.
type Globals struct {
	Config string `short:"c" env:"DAPI_CONFIG" help:"Path to a YAML or JSON configuration file."`
}

type console struct {
	stdout io.Writer
	stderr io.Writer
}

func (g *Globals) load() (config.Config, error) {
	if g.Config == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(g.Config)
}

type cli struct {
	Globals

	Serve serveCmd `cmd:"" help:"Run a cluster node."`
	Call  callCmd  `cmd:"" help:"Dispatch an operation through a node."`
	Ops   opsCmd   `cmd:"" help:"List the operations a node serves."`
}

type serveCmd struct {
	Listen string `help:"Override the listen address."`
}

func (c *serveCmd) Run(g *Globals, out *console) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if c.Listen != "" {
		cfg.Listen = c.Listen
	}

	logger := newLogger(out.stderr, cfg.Log.Level, cfg.Log.Format)
	n, err := buildNode(cfg, logger, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return n.run(ctx)
}

type callCmd struct {
	Operation string   `arg:"" help:"Operation name."`
	Args      []string `arg:"" optional:"" help:"Arguments as key=value. Values that parse as JSON are decoded."`

	Node    string        `short:"n" default:"http://localhost:55000" help:"Address of the node to send the request to."`
	Mode    string        `short:"m" help:"Execution mode. Defaults to the operation's declared mode."`
	Wait    bool          `short:"w" help:"Wait for completion without a deadline."`
	Pretty  bool          `short:"p" help:"Indent the response."`
	Nodes   []string      `help:"Restrict a distributed operation to these node ids."`
	Timeout time.Duration `default:"60s" help:"Client side timeout."`
}

func (c *callCmd) Run(out *console) error {
	args, err := parseArgs(c.Args)
	if err != nil {
		return err
	}

	var mode dapi.ExecutionMode
	if c.Mode != "" {
		if mode, err = dapi.ParseMode(c.Mode); err != nil {
			return err
		}
	}

	req := dapi.NewRequest(c.Operation, args, mode,
		dapi.WithWaitForComplete(c.Wait),
		dapi.WithPretty(c.Pretty),
	)
	if len(c.Nodes) > 0 {
		req.Nodes = c.Nodes
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	client := transport.NewHTTPTransport(transport.WithRequestTimeout(c.Timeout))
	env, err := client.Forward(ctx, dapi.Node{ID: c.Node, Address: c.Node}, req)
	if err != nil {
		env = dapi.NormalizeError(req, err)
	}

	body, err := env.Render()
	if err != nil {
		return err
	}
	fmt.Fprintln(out.stdout, string(body))
	if env.Status != dapi.StatusOK {
		return callFailed(env)
	}
	return nil
}

func callFailed(env dapi.Envelope) error {
	if env.Error == nil {
		return fmt.Errorf("request %s finished with status %s", env.RequestID, env.Status)
	}
	return fmt.Errorf("request %s failed: %s (%s)", env.RequestID, env.Error.Message, env.Error.Code)
}

type opsCmd struct {
	Node string `short:"n" default:"http://localhost:55000" help:"Address of the node to query."`
}

func (c *opsCmd) Run(out *console) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := transport.NewHTTPTransport()
	specs, err := client.Operations(ctx, dapi.Node{ID: c.Node, Address: c.Node})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATION\tMODE\tARGS")
	for _, spec := range specs {
		fmt.Fprintf(tw, "%s\t%s\t%v\n", spec.Name, spec.Mode, spec.ArgNames())
	}
	return tw.Flush()
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("dapi"),
		kong.Description("Cluster aware operation dispatcher."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&c.Globals, &console{stdout: os.Stdout, stderr: os.Stderr}))
}
