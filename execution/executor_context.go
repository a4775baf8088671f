package execution

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"mit.edu/dsg/hashexec/common"
	"mit.edu/dsg/hashexec/config"
)

// ExecutorContext holds everything an executor tree shares while it runs: cancellation, configuration, the
// logger and the metrics registry.
type ExecutorContext struct {
	ctx    context.Context
	cfg    config.Config
	logger *zap.Logger
	reg    prometheus.Registerer

	mu      sync.Mutex
	metrics map[string]*Metrics
}

// NewExecutorContext creates a context. A nil logger discards logs; a nil registry keeps metrics unregistered.
func NewExecutorContext(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) *ExecutorContext {
	return &ExecutorContext{
		ctx:     ctx,
		cfg:     cfg,
		logger:  common.LoggerOrNop(logger),
		reg:     reg,
		metrics: make(map[string]*Metrics),
	}
}

func (c *ExecutorContext) Context() context.Context {
	return c.ctx
}

func (c *ExecutorContext) Config() config.Config {
	return c.cfg
}

func (c *ExecutorContext) Logger() *zap.Logger {
	return c.logger
}

// Metrics returns the metrics of operator, creating and registering them on first use so that every executor
// of the same kind updates one set.
func (c *ExecutorContext) Metrics(operator string) *Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.metrics[operator]
	if !ok {
		m = NewMetrics(c.reg, operator)
		c.metrics[operator] = m
	}
	return m
}
