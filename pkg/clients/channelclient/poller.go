package channelclient

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller is the single background task refreshing a client's cached state
type Poller struct {
	client   *Client
	log      *zap.Logger
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewPoller creates a poller. An interval of zero uses DefaultPollInterval.
func NewPoller(client *Client, logger *zap.Logger, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		client:   client,
		log:      logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start polls once immediately and then every interval
func (p *Poller) Start() {
	p.wg.Add(1)
	go p.run()
	p.log.Info("channel poller started", zap.Duration("interval", p.interval))
}

// Stop signals the poller to stop and waits for it to finish
func (p *Poller) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	p.log.Info("channel poller stopped")
}

func (p *Poller) run() {
	defer p.wg.Done()

	p.poll()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.poll()
		}
	}
}

func (p *Poller) poll() {
	// Never let a slow channel delay the next tick
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	state := p.client.Refresh(ctx)
	if state.LastError != "" {
		p.log.Debug("channel poll failed", zap.String("error", state.LastError))
	}
}
