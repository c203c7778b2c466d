package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Wait strategies for Handle.Navigate.
const (
	WaitLoad        = "load"
	WaitNetworkIdle = "networkidle"
)

const (
	defaultNavTimeout = 30 * time.Second
	networkIdleAfter  = 2 * time.Second
)

// Chrome owns a headless Chrome process via a shared exec allocator and
// builds tab-backed Handles for the pool.
type Chrome struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	logger      *zap.SugaredLogger
}

// NewChrome starts an exec allocator. The browser process itself launches
// lazily with the first tab.
func NewChrome(headless bool, logger *zap.SugaredLogger) *Chrome {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Chrome{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}
}

// NewHandle creates a fresh tab. It satisfies the pool's Factory signature.
func (c *Chrome) NewHandle(ctx context.Context) (Handle, error) {
	tabCtx, tabCancel := chromedp.NewContext(c.allocCtx)

	// Run with no actions forces the tab (and on first use, the browser
	// process) to start, surfacing launch failures here instead of at
	// first navigation.
	startCtx, cancel := context.WithTimeout(tabCtx, 30*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(startCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("starting browser tab: %w", err)
	}

	return &chromeHandle{ctx: tabCtx, cancel: tabCancel, logger: c.logger}, nil
}

// Close tears down the allocator and every tab created from it.
func (c *Chrome) Close() {
	c.allocCancel()
}

type chromeHandle struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.SugaredLogger
}

func (h *chromeHandle) Navigate(ctx context.Context, url string, timeout time.Duration, waitUntil string) (*NavigationResult, error) {
	if timeout <= 0 {
		timeout = defaultNavTimeout
	}
	navCtx, cancel := context.WithTimeout(h.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var idle chan struct{}
	if waitUntil == WaitNetworkIdle {
		if err := chromedp.Run(navCtx, network.Enable()); err != nil {
			return nil, fmt.Errorf("enabling network tracking: %w", err)
		}
		idle = waitNetworkIdle(navCtx, networkIdleAfter)
	}

	actions := []chromedp.Action{chromedp.Navigate(url)}
	if waitUntil != WaitNetworkIdle {
		actions = append(actions, chromedp.WaitReady("body", chromedp.ByQuery))
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		return nil, err
	}

	if idle != nil {
		select {
		case <-idle:
		case <-navCtx.Done():
			return nil, navCtx.Err()
		}
	}

	res := &NavigationResult{}
	err := chromedp.Run(navCtx,
		chromedp.Location(&res.FinalURL),
		chromedp.Title(&res.Title),
		chromedp.OuterHTML("html", &res.HTML, chromedp.ByQuery),
	)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (h *chromeHandle) Evaluate(ctx context.Context, expr string, out any) error {
	evalCtx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	awaitPromise := func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}
	return chromedp.Run(evalCtx, chromedp.Evaluate(expr, out, awaitPromise))
}

func (h *chromeHandle) Close() error {
	h.cancel()
	return nil
}

// waitNetworkIdle closes the returned channel once no network request has
// been in flight for idleAfter. The request accounting over CDP events
// follows the in-flight counter approach used elsewhere for headless
// fetching.
func waitNetworkIdle(ctx context.Context, idleAfter time.Duration) chan struct{} {
	idleChan := make(chan struct{})
	var activeReqs int32
	var timer *time.Timer
	var timerMu sync.Mutex
	var once sync.Once

	startTimer := func() {
		timerMu.Lock()
		defer timerMu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(idleAfter, func() {
			if atomic.LoadInt32(&activeReqs) == 0 {
				once.Do(func() { close(idleChan) })
			}
		})
	}

	chromedp.ListenTarget(ctx, func(ev any) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			atomic.AddInt32(&activeReqs, 1)
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			if atomic.AddInt32(&activeReqs, -1) <= 0 {
				startTimer()
			}
		}
	})

	// Pages that issue no requests at all still go idle.
	startTimer()

	return idleChan
}
