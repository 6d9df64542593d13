package scrape

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/mizutanik/go-book-links/config"
)

const fetchResultKey = "fetch_result"

type fetchResult struct {
	body []byte
	err  error
}

// fetcher wraps a colly collector scoped to one site's domain. It owns the
// per-site rate limiting, user agent and transport; callers get back raw
// bodies and classified errors.
type fetcher struct {
	site      string
	collector *colly.Collector
}

func newFetcher(site, baseURL string, cfg *config.Config) (*fetcher, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url for %s: %w", site, err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url for %s must include a host", site)
	}

	domains := []string{parsed.Host}
	if strings.HasPrefix(parsed.Host, "www.") {
		domains = append(domains, strings.TrimPrefix(parsed.Host, "www."))
	} else {
		domains = append(domains, "www."+parsed.Host)
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(domains...),
		colly.UserAgent(cfg.UserAgent),
	)
	// Retries and selector fallbacks revisit the same search URL.
	collector.AllowURLRevisit = true
	collector.SetRequestTimeout(cfg.RequestTimeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.RequestTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits for %s: %w", site, err)
	}

	f := &fetcher{site: site, collector: collector}
	f.registerHandlers()
	return f, nil
}

func (f *fetcher) registerHandlers() {
	f.collector.OnResponse(func(r *colly.Response) {
		ch, ok := r.Ctx.GetAny(fetchResultKey).(chan fetchResult)
		if !ok {
			return
		}
		if detectChallenge(r.Body) {
			ch <- fetchResult{err: ErrCaptcha{Site: f.site}}
			return
		}
		body := make([]byte, len(r.Body))
		copy(body, r.Body)
		ch <- fetchResult{body: body}
	})

	f.collector.OnError(func(r *colly.Response, err error) {
		var ch chan fetchResult
		statusCode := 0
		if r != nil {
			statusCode = r.StatusCode
			if c, ok := r.Ctx.GetAny(fetchResultKey).(chan fetchResult); ok {
				ch = c
			}
		}
		if ch == nil {
			return
		}
		ch <- fetchResult{err: classifyFetchError(f.site, err, statusCode)}
	})
}

// Fetch retrieves one page. The context is checked before the request is
// issued; an in-flight request is bounded by the collector's own timeout
// rather than interrupted, so cancellation stays cooperative.
func (f *fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, ErrTimeout{Err: err}
	}

	ch := make(chan fetchResult, 1)
	reqCtx := colly.NewContext()
	reqCtx.Put(fetchResultKey, ch)

	if err := f.collector.Request(http.MethodGet, rawURL, nil, reqCtx, nil); err != nil {
		return nil, classifyFetchError(f.site, err, 0)
	}

	select {
	case res := <-ch:
		return res.body, res.err
	case <-ctx.Done():
		return nil, ErrTimeout{Err: ctx.Err()}
	}
}
