package assets

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/hack-pad/hackpadfs"
	lru "github.com/hashicorp/golang-lru"
)

// Asset is a cached response.
type Asset struct {
	URL    string      `json:"url"`
	Status int         `json:"status"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body"`
}

// ReadAsset consumes and closes |resp|, returning it as an Asset stored
// under |key|.
func ReadAsset(key string, resp *http.Response) (*Asset, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return &Asset{
		URL:    key,
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

// OK reports whether the asset is a 2xx response.
func (a *Asset) OK() bool { return a.Status >= 200 && a.Status < 300 }

// Response returns a fresh *http.Response of the asset.
func (a *Asset) Response(req *http.Request) *http.Response {
	var header = a.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", a.Status, http.StatusText(a.Status)),
		StatusCode:    a.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(a.Body)),
		ContentLength: int64(len(a.Body)),
		Request:       req,
	}
}

var cacheNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Storage holds named caches as directories of a hackpadfs.FS, with a
// shared in-memory LRU of recently matched assets.
type Storage struct {
	fs   hackpadfs.FS
	root string
	hot  *lru.Cache

	mu sync.Mutex // Serializes directory creation and removal.
}

// NewStorage returns a Storage rooted at |root| within |fsys|, keeping up to
// |hotSize| assets in memory.
func NewStorage(fsys hackpadfs.FS, root string, hotSize int) (*Storage, error) {
	if hotSize <= 0 {
		hotSize = 128
	}
	hot, err := lru.New(hotSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create hot cache: %w", err)
	}
	root = strings.Trim(root, "/")
	if root == "" {
		root = "."
	} else if err := hackpadfs.MkdirAll(fsys, root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", root, err)
	}
	return &Storage{fs: fsys, root: root, hot: hot}, nil
}

func (s *Storage) dir(name string) string { return path.Join(s.root, name) }

// Open returns the cache |name|, creating it if needed.
func (s *Storage) Open(name string) (*Cache, error) {
	if !cacheNameRe.MatchString(name) {
		return nil, fmt.Errorf("invalid cache name %q", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := hackpadfs.MkdirAll(s.fs, s.dir(name), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache %s: %w", name, err)
	}
	return &Cache{storage: s, name: name}, nil
}

// Has reports whether cache |name| exists.
func (s *Storage) Has(name string) (bool, error) {
	info, err := hackpadfs.Stat(s.fs, s.dir(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// Keys returns the names of all caches, sorted.
func (s *Storage) Keys() ([]string, error) {
	entries, err := hackpadfs.ReadDir(s.fs, s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to list caches: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Delete removes cache |name| and reports whether it existed.
func (s *Storage) Delete(name string) (bool, error) {
	ok, err := s.Has(name)
	if err != nil || !ok {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := hackpadfs.RemoveAll(s.fs, s.dir(name)); err != nil {
		return false, fmt.Errorf("failed to delete cache %s: %w", name, err)
	}
	for _, k := range s.hot.Keys() {
		if strings.HasPrefix(k.(string), name+"\x00") {
			s.hot.Remove(k)
		}
	}
	return true, nil
}

// Match looks up |key| across all caches, in name order.
func (s *Storage) Match(key string) (*Asset, error) {
	names, err := s.Keys()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		a, err := (&Cache{storage: s, name: name}).Match(key)
		if err != nil || a != nil {
			return a, err
		}
	}
	return nil, nil
}

// Stat summarizes a cache.
type Stat struct {
	Name    string
	Entries int
	Bytes   int64
}

// Stats summarizes every cache.
func (s *Storage) Stats() ([]Stat, error) {
	names, err := s.Keys()
	if err != nil {
		return nil, err
	}
	var out []Stat
	for _, name := range names {
		entries, err := hackpadfs.ReadDir(s.fs, s.dir(name))
		if err != nil {
			return nil, fmt.Errorf("failed to list cache %s: %w", name, err)
		}
		var st = Stat{Name: name}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil {
				return nil, err
			}
			st.Entries++
			st.Bytes += info.Size()
		}
		out = append(out, st)
	}
	return out, nil
}

// Cache is one named cache of a Storage.
type Cache struct {
	storage *Storage
	name    string
}

// Name of the cache.
func (c *Cache) Name() string { return c.name }

func (c *Cache) file(key string) string {
	var sum = sha256.Sum256([]byte(key))
	return path.Join(c.storage.dir(c.name), hex.EncodeToString(sum[:16])+".json")
}

func (c *Cache) hotKey(key string) string { return c.name + "\x00" + key }

// Match returns the asset stored under |key|, or nil if there is none.
func (c *Cache) Match(key string) (*Asset, error) {
	if v, ok := c.storage.hot.Get(c.hotKey(key)); ok {
		hotHitsTotal.Inc()
		return v.(*Asset), nil
	}
	b, err := hackpadfs.ReadFile(c.storage.fs, c.file(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read %s from %s: %w", key, c.name, err)
	}
	var a Asset
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("failed to decode %s from %s: %w", key, c.name, err)
	}
	c.storage.hot.Add(c.hotKey(key), &a)
	return &a, nil
}

// Put stores |a| under |key|.
func (c *Cache) Put(key string, a *Asset) error {
	var stored = *a
	stored.URL = key

	b, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := hackpadfs.WriteFullFile(c.storage.fs, c.file(key), b, 0o644); err != nil {
		return fmt.Errorf("failed to write %s to %s: %w", key, c.name, err)
	}
	c.storage.hot.Add(c.hotKey(key), &stored)
	return nil
}

// Delete removes |key|, if present.
func (c *Cache) Delete(key string) error {
	c.storage.hot.Remove(c.hotKey(key))
	err := hackpadfs.Remove(c.storage.fs, c.file(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s from %s: %w", key, c.name, err)
	}
	return nil
}

// Keys returns the keys stored in the cache, sorted.
func (c *Cache) Keys() ([]string, error) {
	entries, err := hackpadfs.ReadDir(c.storage.fs, c.storage.dir(c.name))
	if err != nil {
		return nil, fmt.Errorf("failed to list cache %s: %w", c.name, err)
	}
	var out []string
	for _, e := range entries {
		b, err := hackpadfs.ReadFile(c.storage.fs, path.Join(c.storage.dir(c.name), e.Name()))
		if err != nil {
			return nil, err
		}
		var a struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(b, &a); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", e.Name(), err)
		}
		out = append(out, a.URL)
	}
	sort.Strings(out)
	return out, nil
}

// FetchFunc retrieves the resource stored under |key|.
type FetchFunc func(ctx context.Context, key string) (*http.Response, error)

// AddAll fetches every key and stores them only if all succeed with a 2xx
// status. Otherwise nothing is stored.
func (c *Cache) AddAll(ctx context.Context, fetch FetchFunc, keys []string) error {
	var assets = make([]*Asset, 0, len(keys))
	for _, key := range keys {
		resp, err := fetch(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", key, err)
		}
		a, err := ReadAsset(key, resp)
		if err != nil {
			return err
		}
		if !a.OK() {
			return fmt.Errorf("failed to fetch %s: status %d", key, a.Status)
		}
		assets = append(assets, a)
	}
	for _, a := range assets {
		if err := c.Put(a.URL, a); err != nil {
			return err
		}
	}
	return nil
}
