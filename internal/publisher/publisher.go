// Package publisher periodically captures the browser's visual state to the
// static screenshot path for polling clients.
package publisher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/periscopehq/periscope/internal/control"
	"github.com/periscopehq/periscope/internal/logging"
	"github.com/periscopehq/periscope/internal/monitoring"
)

// Publisher drives the periodic screenshot loop. Failures are logged and may
// trigger session recovery through the controller, but never reach a client:
// this task has no caller to report to.
type Publisher struct {
	control  *control.Controller
	interval time.Duration
	log      *logging.Logger
	metrics  *monitoring.Metrics

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a publisher capturing every interval.
func New(ctrl *control.Controller, interval time.Duration, log *logging.Logger) *Publisher {
	return &Publisher{
		control:  ctrl,
		interval: interval,
		log:      log,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// WithMetrics attaches a metrics collector.
func (p *Publisher) WithMetrics(metrics *monitoring.Metrics) *Publisher {
	p.metrics = metrics
	return p
}

// Start launches the capture loop in its own goroutine.
func (p *Publisher) Start() {
	go p.run()
}

// Stop cancels the loop and waits for it to exit.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Publisher) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.capture()
		}
	}
}

func (p *Publisher) capture() {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval*5)
	defer cancel()

	captured, err := p.control.TrySnapshot(ctx)
	if !captured {
		return // session busy or not ready; skip this cycle
	}
	if err != nil {
		p.log.Warn("Screenshot capture failed", zap.Error(err))
		if p.metrics != nil {
			p.metrics.ScreenshotFailures.Inc()
		}
		return
	}
	if p.metrics != nil {
		p.metrics.ScreenshotsPublished.Inc()
	}
}
