// Package agentnode provides a top-level convenience entry point for running
// an execution node with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/agentnode"
//
//	n, err := agentnode.New(nil, nil)
//	n.MustRegister("echo", func(ctx context.Context, input map[string]any) (any, error) {
//		return input, nil
//	})
//	n.Start(ctx)
//
// This is a thin wrapper around [node.New]; both produce identical results.
// Use this package when you prefer the shorter import path.
package agentnode

import (
	"github.com/BaSui01/agentnode/config"
	"github.com/BaSui01/agentnode/node"

	"go.uber.org/zap"
)

// Node is the runtime assembled by [New].
type Node = node.Node

// Option configures the node created by [New].
type Option = node.Option

// HandlerFunc is the signature units register with the node.
type HandlerFunc = node.HandlerFunc

// Config is the full node configuration tree.
type Config = config.Config

// New creates a [node.Node] from configuration. A nil cfg uses
// [config.DefaultConfig], a nil logger disables logging.
func New(cfg *Config, logger *zap.Logger, opts ...Option) (*Node, error) {
	return node.New(cfg, logger, opts...)
}

// DefaultConfig returns the node's default configuration.
var DefaultConfig = config.DefaultConfig

// LoadConfig loads configuration from a YAML file plus environment
// overrides and validates it.
var LoadConfig = config.MustLoad

// Re-export node options so callers never need to import node/.

// WithClient replaces the coordinator client.
var WithClient = node.WithClient

// WithCollector attaches a Prometheus metrics collector.
var WithCollector = node.WithCollector

// WithVersion sets the version reported to the coordinator.
var WithVersion = node.WithVersion

// WithMiddleware wraps the node's HTTP surface, outermost first.
var WithMiddleware = node.WithMiddleware

// WithRoute mounts an extra handler on the node's HTTP server.
var WithRoute = node.WithRoute

// WithPriority sets the scheduling priority of a submission.
var WithPriority = node.WithPriority

// WithWebhook asks the coordinator to call back on completion.
var WithWebhook = node.WithWebhook
