// Package portal скрейпит поисковую выдачу портала объявлений и страницы самих объявлений.
package portal

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"

	"listing-pipeline/internal/contextkeys"
	"listing-pipeline/internal/core/domain"
	"listing-pipeline/internal/core/extractor"
	"listing-pipeline/internal/core/port"
)

const (
	defaultParallelism = 2
	defaultMaxPages    = 5
)

// токен ID... в конце пути объявления, например /oferta/mieszkanie-3-pokoje-ID4nBxq
var offerIDPattern = regexp.MustCompile(`(?:^|[-/])(ID[0-9A-Za-z]+)(?:\.html)?/?$`)

// Config параметры одного портала
type Config struct {
	Name          string
	SearchURL     string
	AllowedDomain string
	MaxPages      int
	Parallelism   int
	RandomDelay   time.Duration
	// OfferSelector CSS-селектор ссылок на объявления в выдаче
	OfferSelector string
}

// Provider реализует port.ScrapeProviderPort поверх colly
type Provider struct {
	cfg       Config
	collector *colly.Collector
	extractor *extractor.Extractor
	now       func() time.Time
}

// NewProvider - конструктор
func NewProvider(cfg Config, ex *extractor.Extractor) (*Provider, error) {
	if cfg.SearchURL == "" {
		return nil, fmt.Errorf("portal provider %q: search url is required", cfg.Name)
	}
	searchURL, err := url.Parse(cfg.SearchURL)
	if err != nil {
		return nil, fmt.Errorf("portal provider %q: invalid search url: %w", cfg.Name, err)
	}
	if cfg.AllowedDomain == "" {
		cfg.AllowedDomain = searchURL.Hostname()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = defaultParallelism
	}
	if cfg.OfferSelector == "" {
		cfg.OfferSelector = "a[href]"
	}
	if ex == nil {
		ex = extractor.New(nil)
	}

	// родительский коллектор, от него клонируются коллекторы выдачи и объявлений
	c := colly.NewCollector(
		colly.AllowedDomains(cfg.AllowedDomain),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(domain.MaxHTMLBytes),
	)
	err = c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		RandomDelay: cfg.RandomDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("portal provider %q: failed to set limit rule: %w", cfg.Name, err)
	}

	return &Provider{
		cfg:       cfg,
		collector: c,
		extractor: ex,
		now:       time.Now,
	}, nil
}

func (p *Provider) Name() string {
	return p.cfg.Name
}

// Fetch обходит до MaxPages страниц выдачи и скачивает не больше limit объявлений.
// limit <= 0 снимает ограничение.
func (p *Provider) Fetch(ctx context.Context, limit int) ([]domain.RawScrapeRecord, error) {
	logger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"component": "PortalProvider",
		"provider":  p.cfg.Name,
	})

	offerURLs, err := p.collectOfferURLs(ctx, limit, logger)
	if err != nil {
		return nil, err
	}
	if len(offerURLs) == 0 {
		logger.Warn("Search returned no offers", nil)
		return nil, nil
	}

	records := p.fetchOffers(ctx, offerURLs, logger)
	logger.Info("Fetch finished", port.Fields{"offers": len(offerURLs), "records": len(records)})
	return records, nil
}

// collectOfferURLs идет по страницам ?page=N, пока выдача дает новые ссылки
func (p *Provider) collectOfferURLs(ctx context.Context, limit int, logger port.LoggerPort) ([]string, error) {
	collector := p.newCollector(ctx)

	seen := make(map[string]struct{})
	var offers []string
	var found int
	var responseErr error

	collector.OnHTML(p.cfg.OfferSelector, func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" || offerIDFromURL(link) == "" {
			return
		}
		link = stripFragment(link)
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		found++
		if limit <= 0 || len(offers) < limit {
			offers = append(offers, link)
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		responseErr = fmt.Errorf("portal provider: request to %s failed with status %d: %w", r.Request.URL, r.StatusCode, err)
	})

	for page := 1; page <= p.cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pageURL, err := searchPageURL(p.cfg.SearchURL, page)
		if err != nil {
			return nil, err
		}

		found, responseErr = 0, nil
		if err := collector.Visit(pageURL); err != nil {
			if page == 1 {
				return nil, fmt.Errorf("portal provider: failed to visit %s: %w", pageURL, err)
			}
			logger.Warn("Search page visit failed", port.Fields{"page": page, "error": err.Error()})
			break
		}
		collector.Wait()

		if responseErr != nil {
			// первая страница обязательна, остальные обрывают обход
			if page == 1 {
				return nil, responseErr
			}
			logger.Warn("Search page failed", port.Fields{"page": page, "error": responseErr.Error()})
			break
		}

		logger.Debug("Search page parsed", port.Fields{"page": page, "new_offers": found})
		if found == 0 || (limit > 0 && len(offers) >= limit) {
			break
		}
	}

	return offers, nil
}

// fetchOffers качает страницы объявлений параллельно, порядок результата совпадает с выдачей
func (p *Provider) fetchOffers(ctx context.Context, offerURLs []string, logger port.LoggerPort) []domain.RawScrapeRecord {
	collector := p.newCollector(ctx)
	collector.Async = true

	var mu sync.Mutex
	byURL := make(map[string]domain.RawScrapeRecord, len(offerURLs))

	collector.OnResponse(func(r *colly.Response) {
		link := r.Ctx.Get("offer_url")
		record, ok := p.toRecord(link, string(r.Body))
		if !ok {
			logger.Warn("Offer has no external id, skipped", port.Fields{"url": link})
			return
		}
		mu.Lock()
		byURL[link] = record
		mu.Unlock()
	})
	collector.OnError(func(r *colly.Response, err error) {
		logger.Warn("Offer request failed", port.Fields{
			"url":    r.Request.URL.String(),
			"status": r.StatusCode,
			"error":  err.Error(),
		})
	})

	for _, link := range offerURLs {
		if ctx.Err() != nil {
			break
		}
		reqCtx := colly.NewContext()
		reqCtx.Put("offer_url", link)
		if err := collector.Request("GET", link, nil, reqCtx, nil); err != nil {
			logger.Warn("Offer visit failed", port.Fields{"url": link, "error": err.Error()})
		}
	}
	collector.Wait()

	records := make([]domain.RawScrapeRecord, 0, len(byURL))
	for _, link := range offerURLs {
		if record, ok := byURL[link]; ok {
			records = append(records, record)
		}
	}
	return records
}

func (p *Provider) toRecord(link, html string) (domain.RawScrapeRecord, bool) {
	if len(html) > domain.MaxHTMLBytes {
		html = html[:domain.MaxHTMLBytes]
	}

	structured, ok := p.extractor.Extract(html)
	if !ok {
		structured = nil
	}

	externalID := ""
	if structured != nil {
		externalID = structured.ExternalID
	}
	if externalID == "" {
		externalID = offerIDFromURL(link)
	}
	if externalID == "" {
		return domain.RawScrapeRecord{}, false
	}

	return domain.RawScrapeRecord{
		Source:     p.cfg.Name,
		ExternalID: externalID,
		SourceURL:  link,
		HTML:       html,
		Structured: structured,
		ScrapedAt:  p.now().UTC(),
	}, true
}

// newCollector клон с контекстом запроса. Колбэки расширений не клонируются, вешаем заново.
func (p *Provider) newCollector(ctx context.Context) *colly.Collector {
	c := p.collector.Clone()
	c.Context = ctx

	extensions.RandomUserAgent(c) // User-Agent реального браузера на каждый запрос
	extensions.Referer(c)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "pl-PL,pl;q=0.9,en-US;q=0.8,en;q=0.7")
	})
	return c
}

func searchPageURL(base string, page int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("portal provider: invalid search url: %w", err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func offerIDFromURL(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	m := offerIDPattern.FindStringSubmatch(u.Path)
	if m == nil {
		return ""
	}
	return m[1]
}

func stripFragment(link string) string {
	if i := strings.IndexByte(link, '#'); i >= 0 {
		return link[:i]
	}
	return link
}
