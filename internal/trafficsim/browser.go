package trafficsim

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gocolly/colly/v2"
)

const maxPageAssets = 20

// browserFetcher loads a page the way a browser would: the document first,
// then its same-host stylesheets, scripts and images. The reported status is
// the document's; asset failures are ignored.
type browserFetcher struct {
	maxBody    int64
	transports *transportCache
}

func newBrowserFetcher(maxBody int64) *browserFetcher {
	return &browserFetcher{maxBody: maxBody, transports: newTransportCache()}
}

func (f *browserFetcher) Fetch(ctx context.Context, fr FetchRequest) (FetchResponse, error) {
	t, err := f.transports.get(fr.Proxy)
	if err != nil {
		return FetchResponse{}, err
	}
	if fr.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, fr.Timeout)
		defer cancel()
	}
	pageURL, err := url.Parse(fr.URL)
	if err != nil {
		return FetchResponse{}, err
	}

	opts := []colly.CollectorOption{
		colly.AllowURLRevisit(),
		colly.MaxDepth(2),
		colly.ParseHTTPErrorResponse(),
		colly.StdlibContext(ctx),
	}
	if ua := fr.Header.Get("User-Agent"); ua != "" {
		opts = append(opts, colly.UserAgent(ua))
	}
	if f.maxBody > 0 {
		opts = append(opts, colly.MaxBodySize(int(f.maxBody)))
	}
	c := colly.NewCollector(opts...)
	c.WithTransport(t)
	if fr.Timeout > 0 {
		c.SetRequestTimeout(fr.Timeout)
	}

	var (
		res    FetchResponse
		assets int
	)
	c.OnResponse(func(r *colly.Response) {
		res.Bytes += int64(len(r.Body))
		if r.Request.Depth == 1 {
			res.Status = r.StatusCode
		}
	})
	c.OnHTML("link[rel=stylesheet][href], script[src], img[src]", func(e *colly.HTMLElement) {
		if e.Request.Depth != 1 || assets >= maxPageAssets {
			return
		}
		attr := "src"
		if e.Name == "link" {
			attr = "href"
		}
		abs := e.Request.AbsoluteURL(e.Attr(attr))
		u, err := url.Parse(abs)
		if err != nil || !strings.EqualFold(u.Host, pageURL.Host) {
			return
		}
		assets++
		_ = e.Request.Visit(abs)
	})

	hdr := http.Header{}
	copyHeaders(hdr, fr.Header)
	if err := c.Request(http.MethodGet, fr.URL, nil, nil, hdr); err != nil {
		return FetchResponse{}, err
	}
	return res, nil
}

func (f *browserFetcher) Close() error {
	f.transports.closeIdle()
	return nil
}
