package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/kittclouds/restokitt/pkg/imageurl"
	log "github.com/sirupsen/logrus"
)

// ErrNotCached is returned for an app shell document missing from the
// primary cache.
var ErrNotCached = errors.New("not in cache")

// Options configure an Interceptor.
type Options struct {
	// Origin the app is served from, such as "http://localhost:8000".
	Origin string
	// Version suffix of cache names, such as "v4".
	Version string
	// Manifest is installed into the primary cache.
	Manifest []string
	// Warm is installed into the image cache in the background.
	Warm []string
	// Shell documents are served only from the primary cache.
	Shell []string
	// Placeholder is served from the primary cache when an image fails.
	Placeholder string
}

// DefaultOptions of the restaurant app.
func DefaultOptions(origin string) Options {
	return Options{
		Origin:  origin,
		Version: "v4",
		Manifest: []string{
			"/",
			"/favicon.ico",
			"/restaurant.html",
			"/manifest.json",
			"/js/controller.js",
			"/js/idb.js",
			"/js/main.js",
			"/js/dbhelper.js",
			"/js/restaurant_info.js",
			"/css/styles.css",
			"/css/entypo.min.css",
			imageurl.Unavailable,
		},
		Warm:        []string{imageurl.NotFound, imageurl.NoMap},
		Shell:       []string{"/", "/restaurant.html"},
		Placeholder: imageurl.Unavailable,
	}
}

// CachePrefix is shared by every cache generation of the app.
const CachePrefix = "restaurant-"

// PrimaryCache is the name of the static asset cache of |version|.
func PrimaryCache(version string) string { return CachePrefix + "project-" + version }

// ImageCache is the name of the image cache of |version|.
func ImageCache(version string) string { return CachePrefix + "images-" + version }

// Interceptor serves requests from the Storage caches, going to the network
// through Next.
type Interceptor struct {
	storage *Storage
	next    http.RoundTripper
	origin  *url.URL
	opts    Options

	warming sync.WaitGroup
}

// NewInterceptor returns an Interceptor over |storage|. If |next| is nil,
// http.DefaultTransport is used.
func NewInterceptor(storage *Storage, next http.RoundTripper, opts Options) (*Interceptor, error) {
	origin, err := url.Parse(opts.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin %q: %w", opts.Origin, err)
	}
	if next == nil {
		next = http.DefaultTransport
	}
	if opts.Version == "" {
		opts.Version = "v4"
	}
	return &Interceptor{storage: storage, next: next, origin: origin, opts: opts}, nil
}

// Storage of the Interceptor.
func (i *Interceptor) Storage() *Storage { return i.storage }

// AllowList is the cache names of the current generation.
func (i *Interceptor) AllowList() []string {
	return []string{PrimaryCache(i.opts.Version), ImageCache(i.opts.Version)}
}

// Install fills the primary cache from the manifest, failing if any entry
// cannot be fetched, and starts warming the image cache in the background.
func (i *Interceptor) Install(ctx context.Context) error {
	primary, err := i.storage.Open(PrimaryCache(i.opts.Version))
	if err != nil {
		return err
	}
	images, err := i.storage.Open(ImageCache(i.opts.Version))
	if err != nil {
		return err
	}

	var warmCtx = context.WithoutCancel(ctx)
	i.warming.Add(1)
	go func() {
		defer i.warming.Done()
		if err := images.AddAll(warmCtx, i.fetch, i.opts.Warm); err != nil {
			log.WithField("err", err).Warn("failed to warm image cache")
		}
	}()

	if err := primary.AddAll(ctx, i.fetch, i.opts.Manifest); err != nil {
		log.WithField("err", err).Error("could not cache all files, aborting installation")
		return fmt.Errorf("install: %w", err)
	}
	log.WithFields(log.Fields{
		"cache":   primary.Name(),
		"entries": len(i.opts.Manifest),
	}).Info("installed asset cache")
	return nil
}

// Wait blocks until background warming finishes.
func (i *Interceptor) Wait() { i.warming.Wait() }

// Activate deletes app caches which are not in the allow-list, returning
// their names.
func (i *Interceptor) Activate(context.Context) ([]string, error) {
	names, err := i.storage.Keys()
	if err != nil {
		return nil, err
	}
	var allow = i.AllowList()
	var deleted []string
	for _, name := range names {
		if !strings.HasPrefix(name, CachePrefix) || slices.Contains(allow, name) {
			continue
		}
		if _, err := i.storage.Delete(name); err != nil {
			return deleted, err
		}
		deleted = append(deleted, name)
	}
	if len(deleted) != 0 {
		log.WithField("caches", deleted).Info("deleted stale asset caches")
	}
	return deleted, nil
}

// fetch GETs |key| (a path or absolute URL) from the network.
func (i *Interceptor) fetch(ctx context.Context, key string) (*http.Response, error) {
	ref, err := url.Parse(key)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.origin.ResolveReference(ref).String(), nil)
	if err != nil {
		return nil, err
	}
	return i.next.RoundTrip(req)
}

// key is the cache key of a request: its path and query when same-origin,
// or the full URL otherwise.
func (i *Interceptor) key(u *url.URL) string {
	if i.sameOrigin(u) {
		return u.RequestURI()
	}
	return u.String()
}

func (i *Interceptor) sameOrigin(u *url.URL) bool {
	return u.Host == "" || (u.Scheme == i.origin.Scheme && u.Host == i.origin.Host)
}

// RoundTrip implements http.RoundTripper.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	var p = req.URL.Path
	switch {
	case imageurl.IsImage(p):
		return i.servePhoto(req)
	case i.sameOrigin(req.URL) && slices.Contains(i.opts.Shell, p):
		return i.serveShell(req)
	default:
		return i.serveCacheFirst(req)
	}
}

func (i *Interceptor) servePhoto(req *http.Request) (*http.Response, error) {
	var key = imageurl.Canonical(i.key(req.URL))

	images, err := i.storage.Open(ImageCache(i.opts.Version))
	if err != nil {
		return nil, err
	}
	if a, err := images.Match(key); err != nil {
		log.WithFields(log.Fields{"key": key, "err": err}).Warn("image cache read failed")
	} else if a != nil {
		requestsTotal.WithLabelValues(ruleImage, resultHit).Inc()
		return a.Response(req), nil
	}

	resp, err := i.next.RoundTrip(req)
	if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		a, err := ReadAsset(key, resp)
		if err == nil {
			if err := images.Put(key, a); err != nil {
				log.WithFields(log.Fields{"key": key, "err": err}).Warn("failed to store image")
			}
			requestsTotal.WithLabelValues(ruleImage, resultMiss).Inc()
			return a.Response(req), nil
		}
	} else if err == nil {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	return i.imageNotAvailable(req)
}

func (i *Interceptor) imageNotAvailable(req *http.Request) (*http.Response, error) {
	primary, err := i.storage.Open(PrimaryCache(i.opts.Version))
	if err != nil {
		return nil, err
	}
	a, err := primary.Match(i.opts.Placeholder)
	if err != nil {
		return nil, err
	} else if a == nil {
		requestsTotal.WithLabelValues(ruleImage, resultError).Inc()
		return nil, fmt.Errorf("image %s unavailable: %w", req.URL.Path, ErrNotCached)
	}
	requestsTotal.WithLabelValues(ruleImage, resultFallback).Inc()
	return a.Response(req), nil
}

func (i *Interceptor) serveShell(req *http.Request) (*http.Response, error) {
	primary, err := i.storage.Open(PrimaryCache(i.opts.Version))
	if err != nil {
		return nil, err
	}
	a, err := primary.Match(req.URL.Path)
	if err != nil {
		return nil, err
	} else if a == nil {
		requestsTotal.WithLabelValues(ruleShell, resultError).Inc()
		return nil, fmt.Errorf("app shell %s: %w", req.URL.Path, ErrNotCached)
	}
	requestsTotal.WithLabelValues(ruleShell, resultHit).Inc()
	return a.Response(req), nil
}

func (i *Interceptor) serveCacheFirst(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodGet || req.Method == http.MethodHead {
		if a, err := i.storage.Match(i.key(req.URL)); err != nil {
			log.WithFields(log.Fields{"url": req.URL.String(), "err": err}).Warn("asset cache read failed")
		} else if a != nil {
			requestsTotal.WithLabelValues(ruleOther, resultHit).Inc()
			return a.Response(req), nil
		}
	}
	resp, err := i.next.RoundTrip(req)
	if err != nil {
		requestsTotal.WithLabelValues(ruleOther, resultError).Inc()
		log.WithFields(log.Fields{"url": req.URL.String(), "err": err}).Info("failed to fetch")
		return nil, err
	}
	requestsTotal.WithLabelValues(ruleOther, resultMiss).Inc()
	return resp, nil
}

// ServeHTTP serves |r| through the Interceptor as a proxy of Origin.
func (i *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var target = i.origin.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out.Header = r.Header.Clone()

	resp, err := i.RoundTrip(out)
	if err != nil {
		var status = http.StatusBadGateway
		if errors.Is(err, ErrNotCached) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
