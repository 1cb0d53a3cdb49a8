package advproxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/weft-protocol/weft-go/pkg/dnsname"
	"github.com/weft-protocol/weft-go/pkg/log"
	"github.com/weft-protocol/weft-go/pkg/srp"
)

// Proxy bridges the SRP server's advertising handler to an Advertiser.
// While started, every accepted SRP update is re-advertised before the
// server commits it; an advertising failure rejects the update.
type Proxy struct {
	registry   *srp.Server
	advertiser Advertiser
	logger     log.Logger
	domain     string

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewProxy creates a proxy between the registration server and the
// advertiser.
func NewProxy(registry *srp.Server, advertiser Advertiser, logger log.Logger) (*Proxy, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: nil registration server", ErrInvalidArgs)
	}
	if advertiser == nil {
		return nil, fmt.Errorf("%w: nil advertiser", ErrInvalidArgs)
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}
	return &Proxy{
		registry:   registry,
		advertiser: advertiser,
		logger:     logger,
		domain:     registry.Domain(),
	}, nil
}

// Start installs the proxy as the registration server's advertising
// handler.
func (p *Proxy) Start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("%w: already started", ErrInvalidState)
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	p.registry.SetAdvertisingHandler(p.handleUpdate)
	return nil
}

// Stop uninstalls the handler, waits for in-flight updates and
// withdraws all advertisements.
func (p *Proxy) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	cancel := p.cancel
	p.mu.Unlock()

	p.registry.SetAdvertisingHandler(nil)
	cancel()
	p.wg.Wait()
	p.advertiser.Close()
}

// handleUpdate is the srp.AdvertisingHandler. Advertising runs off the
// server's goroutine; the result is reported when it completes or the
// update's timeout cancels it.
func (p *Proxy) handleUpdate(upd srp.AdvertisingUpdate) {
	p.mu.Lock()
	if !p.started {
		// Shutting down; let the update through unadvertised.
		p.mu.Unlock()
		p.registry.HandleAdvertisingResult(upd.Host, nil)
		return
	}
	ctx := p.ctx
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, upd.Timeout)
		defer cancel()
		err := p.applyUpdate(ctx, upd.Host)
		if err != nil {
			p.logAdvertisingError(upd, err)
		}
		p.registry.HandleAdvertisingResult(upd.Host, err)
	}()
}

// applyUpdate publishes the staged host's services. A zero lease means
// the whole host is leaving, so every staged service is withdrawn.
func (p *Proxy) applyUpdate(ctx context.Context, host *srp.Host) error {
	hostComp, err := dnsname.Parse(host.FullName(), p.domain)
	if err != nil {
		return err
	}
	removeAll := host.Lease() == 0
	addrs := host.Addresses()

	for _, svc := range host.Services() {
		comp, err := dnsname.Parse(svc.FullName(), p.domain)
		if err != nil {
			return err
		}
		reg := Registration{
			Instance:  comp.Instance,
			Service:   comp.Service,
			Host:      hostComp.Host,
			Addresses: addrs,
			Port:      svc.Port(),
		}
		if removeAll || svc.IsDeleted() {
			if err := p.advertiser.Remove(reg.Name()); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			continue
		}
		if strs, err := dnsname.UnpackTXT(svc.TxtData()); err == nil {
			reg.Txt = strs
		}
		if err := p.advertiser.Advertise(ctx, reg); err != nil {
			return err
		}
	}
	return nil
}

func (p *Proxy) logAdvertisingError(upd srp.AdvertisingUpdate, err error) {
	p.logger.Log(log.Event{
		Timestamp: time.Now(),
		TraceID:   upd.ID.String(),
		Layer:     log.LayerService,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerService,
			Message: fmt.Sprintf("advertising failed for %s: %v", upd.Host.FullName(), err),
		},
	})
}
