package trafficsim

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
)

type sitemapDoc struct {
	URLs     []string `xml:"url>loc"`
	Sitemaps []string `xml:"sitemap>loc"`
}

// urlDiscoverer grows the target list from sitemaps and from the links on
// seed pages. Only URLs on the same host as their source are kept.
type urlDiscoverer struct {
	client  *http.Client
	maxURLs int
	log     zerolog.Logger

	seen  map[string]struct{}
	out   []string
	added int
}

func newURLDiscoverer(client *http.Client, maxURLs int, log zerolog.Logger) *urlDiscoverer {
	return &urlDiscoverer{
		client:  client,
		maxURLs: maxURLs,
		log:     withComponent(log, "discover"),
		seen:    map[string]struct{}{},
	}
}

// Discover returns known followed by every newly found URL, at most maxURLs
// of them. Unreachable sources are logged and skipped.
func (d *urlDiscoverer) Discover(ctx context.Context, known, sitemaps, seedPages []string) []string {
	for _, u := range known {
		if _, ok := d.seen[u]; !ok {
			d.seen[u] = struct{}{}
			d.out = append(d.out, u)
		}
	}

	if len(sitemaps) > 0 {
		stored, ignored := d.walkSitemaps(ctx, sitemaps)
		d.log.Info().Int("stored", stored).Int("ignored", ignored).Msg("sitemaps processed")
	}
	for _, seed := range seedPages {
		if ctx.Err() != nil || d.full() {
			break
		}
		n, err := d.scanSeedPage(ctx, seed)
		if err != nil {
			d.log.Warn().Err(err).Str("seed", seed).Msg("seed page skipped")
			continue
		}
		d.log.Info().Str("seed", seed).Int("stored", n).Msg("seed page processed")
	}
	return d.out
}

func (d *urlDiscoverer) full() bool {
	return d.maxURLs > 0 && d.added >= d.maxURLs
}

func (d *urlDiscoverer) add(raw string) bool {
	if d.full() {
		return false
	}
	if _, ok := d.seen[raw]; ok {
		return false
	}
	d.seen[raw] = struct{}{}
	d.out = append(d.out, raw)
	d.added++
	return true
}

func (d *urlDiscoverer) walkSitemaps(ctx context.Context, roots []string) (stored, ignored int) {
	seenSitemaps := map[string]struct{}{}
	queue := append([]string(nil), roots...)

	for len(queue) > 0 && !d.full() {
		if ctx.Err() != nil {
			return stored, ignored
		}
		smURL := strings.TrimSpace(queue[0])
		queue = queue[1:]
		if smURL == "" {
			continue
		}
		if _, ok := seenSitemaps[smURL]; ok {
			continue
		}
		seenSitemaps[smURL] = struct{}{}

		base, err := url.Parse(smURL)
		if err != nil {
			d.log.Warn().Err(err).Str("sitemap", smURL).Msg("invalid sitemap url")
			continue
		}
		doc, err := d.fetchAndParseSitemap(ctx, smURL)
		if err != nil {
			d.log.Warn().Err(err).Str("sitemap", smURL).Msg("sitemap skipped")
			continue
		}

		for _, nested := range doc.Sitemaps {
			if abs, ok := sameHostURL(base, nested); ok {
				queue = append(queue, abs)
			}
		}
		for _, loc := range doc.URLs {
			abs, ok := sameHostURL(base, loc)
			if !ok {
				ignored++
				continue
			}
			if d.add(abs) {
				stored++
			}
		}
	}
	return stored, ignored
}

func (d *urlDiscoverer) fetchAndParseSitemap(ctx context.Context, sitemapURL string) (sitemapDoc, error) {
	body, err := d.get(ctx, sitemapURL)
	if err != nil {
		return sitemapDoc{}, err
	}

	// .gz sitemaps may or may not have been decompressed by the transport already.
	tryGzip := strings.HasSuffix(strings.ToLower(sitemapURL), ".gz") || (len(body) >= 2 && body[0] == 0x1f && body[1] == 0x8b)
	if tryGzip {
		if gz, err := gzip.NewReader(bytes.NewReader(body)); err == nil {
			defer gz.Close()
			if unzipped, err := io.ReadAll(gz); err == nil {
				body = unzipped
			}
		}
	}

	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return sitemapDoc{}, err
	}
	return doc, nil
}

func (d *urlDiscoverer) scanSeedPage(ctx context.Context, seed string) (int, error) {
	base, err := url.Parse(seed)
	if err != nil {
		return 0, err
	}
	body, err := d.get(ctx, seed)
	if err != nil {
		return 0, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("parse html: %w", err)
	}

	n := 0
	if abs, ok := sameHostURL(base, seed); ok && d.add(abs) {
		n++
	}
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		if abs, ok := sameHostURL(base, href); ok && d.add(abs) {
			n++
		}
		return !d.full()
	})
	return n, nil
}

func (d *urlDiscoverer) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return io.ReadAll(resp.Body)
}

// sameHostURL resolves ref against base and keeps it only when it is an
// http(s) URL on base's host. Fragments are dropped.
func sameHostURL(base *url.URL, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	u = base.ResolveReference(u)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if !strings.EqualFold(u.Host, base.Host) {
		return "", false
	}
	u.Fragment, u.RawFragment = "", ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), true
}
