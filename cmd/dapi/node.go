package main

import (
	"context"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"

	dapi "github.com/goliatone/go-dapi"
	"github.com/goliatone/go-dapi/agents"
	"github.com/goliatone/go-dapi/api"
	"github.com/goliatone/go-dapi/cluster"
	"github.com/goliatone/go-dapi/cluster/redismembership"
	"github.com/goliatone/go-dapi/config"
	"github.com/goliatone/go-dapi/cron"
	"github.com/goliatone/go-dapi/dispatcher"
	"github.com/goliatone/go-dapi/metrics"
	"github.com/goliatone/go-dapi/registry"
	"github.com/goliatone/go-dapi/transport"
)

// node is one running cluster member.
type node struct {
	cfg        config.Config
	logger     dapi.Logger
	store      *agents.Store
	membership cluster.Membership
	dispatcher *dispatcher.Dispatcher
	server     *transport.Server
	scheduler  *cron.Scheduler
	heartbeat  *cluster.Heartbeat
	redis      *redis.Client
	leave      func(context.Context) error
	stopOnce   sync.Once
}

// buildNode wires configuration into a dispatcher and its node server.
// redisClient is used for redis membership when not nil.
func buildNode(cfg config.Config, logger dapi.Logger, redisClient *redis.Client) (*node, error) {
	n := &node{
		cfg:       cfg,
		logger:    logger,
		store:     agents.NewStore(cfg.Node.ID),
		scheduler: cron.NewScheduler(cron.WithLogger(logger)),
	}

	switch cfg.Cluster.Membership {
	case config.MembershipRedis:
		if redisClient == nil {
			redisClient = redis.NewClient(&redis.Options{
				Addr:     cfg.Cluster.Redis.Addr,
				Password: cfg.Cluster.Redis.Password,
				DB:       cfg.Cluster.Redis.DB,
			})
		}
		m := redismembership.New(redisClient, cfg.Node,
			redismembership.WithPrefix(cfg.Cluster.Redis.Prefix),
			redismembership.WithTTL(cfg.Cluster.Redis.TTL),
			redismembership.WithCandidate(cfg.Node.Type == dapi.NodeTypeMaster),
		)
		n.redis = redisClient
		n.membership = m
		n.leave = m.Leave
		n.heartbeat = cluster.NewHeartbeat(n.scheduler, m, cfg.Cluster.Heartbeat, logger)
	default:
		n.membership = cluster.NewStaticMembership(cfg.Node, cfg.Cluster.Peers...)
	}

	reg, err := registry.New(agents.Operations(n.store)...)
	if err != nil {
		return nil, err
	}

	httpTransport := transport.NewHTTPTransport(
		transport.WithRequestTimeout(cfg.Transport.Timeout),
		transport.WithRetry(cfg.Transport.Backoff.Strategy(), cfg.Transport.MaxRetries),
		transport.WithHTTPLogger(logger),
	)

	observer := metrics.NewObserver()
	n.dispatcher = dispatcher.New(reg, n.membership, httpTransport,
		dispatcher.WithTimeout(cfg.Dispatch.DefaultTimeout),
		dispatcher.WithMaxConcurrency(cfg.Dispatch.MaxConcurrency),
		dispatcher.WithLogger(logger),
		dispatcher.WithObserver(observer),
	)

	controller := api.NewAgentsController(n.dispatcher)
	n.server = transport.NewServer(n.dispatcher,
		transport.WithServerLogger(logger),
		transport.WithOperations(n.dispatcher.Specs),
		transport.WithLocalNode(n.dispatcher.LocalNode),
		transport.WithMetricsHandler(observer.Handler()),
		transport.WithRoutes(controller.Routes),
	)
	return n, nil
}

// Handler returns the node HTTP surface.
func (n *node) Handler() http.Handler { return n.server }

// start joins the cluster. The first heartbeat runs before start returns.
func (n *node) start(ctx context.Context) error {
	if err := n.scheduler.Start(ctx); err != nil {
		return err
	}
	if n.heartbeat != nil {
		if err := n.heartbeat.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// run joins the cluster and serves until ctx is cancelled.
func (n *node) run(ctx context.Context) error {
	if err := n.start(ctx); err != nil {
		return err
	}
	defer n.stop()

	n.logger.Info("node %s (%s) serving with %s membership", n.cfg.Node.ID, n.cfg.Node.Type, n.cfg.Cluster.Membership)
	return n.server.Start(ctx, n.cfg.Listen)
}

// stop leaves the cluster. It is safe to call more than once.
func (n *node) stop() {
	n.stopOnce.Do(n.shutdown)
}

func (n *node) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if n.heartbeat != nil {
		n.heartbeat.Stop()
	}
	if err := n.scheduler.Stop(ctx); err != nil {
		n.logger.Warn("scheduler stop: %v", err)
	}
	if n.leave != nil {
		if err := n.leave(ctx); err != nil {
			n.logger.Warn("leaving cluster: %v", err)
		}
	}
	if n.redis != nil {
		_ = n.redis.Close()
	}
}
