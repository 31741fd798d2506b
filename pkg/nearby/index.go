// Package nearby finds the restaurants closest to a point or to another
// restaurant. Coordinates are indexed as unit vectors on the sphere in an
// HNSW graph, where cosine distance orders points like great-circle
// distance does.
package nearby

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sort"
	"sync"

	"github.com/fogfish/hnsw"
	"github.com/fogfish/hnsw/vector"
	"github.com/hack-pad/hackpadfs"
	"github.com/kittclouds/restokitt/internal/model"
	kvector "github.com/kshard/vector"
)

const (
	earthRadiusMeters = 6371008.8
	minCandidates     = 64
)

// Neighbor is a restaurant and its distance.
type Neighbor struct {
	ID     int64   `json:"id"`
	Meters float64 `json:"meters"`
}

// Index is an HNSW index of restaurant coordinates, optionally persisted
// to a hackpadfs.FS.
type Index struct {
	FS   hackpadfs.FS
	Path string

	mu     sync.RWMutex
	graph  *hnsw.HNSW[vector.VF32]
	points map[uint32]model.LatLng
}

// New returns an Index persisted at |path| of |fsys|, loading it if present.
// A nil |fsys| keeps the index in memory only.
func New(fsys hackpadfs.FS, path string) (*Index, error) {
	var ix = &Index{FS: fsys, Path: path}
	ix.reset()

	if fsys == nil {
		return ix, nil
	}
	if err := ix.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return ix, nil
}

func newGraph() *hnsw.HNSW[vector.VF32] {
	return hnsw.New[vector.VF32](vector.SurfaceVF32(kvector.Cosine()))
}

func (ix *Index) reset() {
	ix.graph = newGraph()
	ix.points = make(map[uint32]model.LatLng)
}

// Dims is the length of the vectors returned by Unit. The cosine kernel
// requires a multiple of 4, so the point is padded with a zero.
const Dims = 4

// Unit maps a coordinate onto the unit sphere.
func Unit(p model.LatLng) []float32 {
	var lat, lng = p.Lat * math.Pi / 180, p.Lng * math.Pi / 180
	return []float32{
		float32(math.Cos(lat) * math.Cos(lng)),
		float32(math.Cos(lat) * math.Sin(lng)),
		float32(math.Sin(lat)),
		0,
	}
}

// Haversine is the great-circle distance between |a| and |b| in meters.
func Haversine(a, b model.LatLng) float64 {
	var lat1, lat2 = a.Lat * math.Pi / 180, b.Lat * math.Pi / 180
	var dLat = lat2 - lat1
	var dLng = (b.Lng - a.Lng) * math.Pi / 180

	var h = math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

func key(id int64) (uint32, error) {
	if id <= 0 || id > math.MaxUint32 {
		return 0, fmt.Errorf("restaurant id %d out of range", id)
	}
	return uint32(id), nil
}

// Len is the number of indexed restaurants.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.points)
}

// Rebuild replaces the index with the coordinates of |rs|.
func (ix *Index) Rebuild(rs []model.Restaurant) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.reset()
	for _, r := range rs {
		if err := ix.insert(r.ID, r.LatLng); err != nil {
			return err
		}
	}
	return nil
}

// Add indexes restaurant |id| at |p|. A restaurant already indexed at a
// different point forces a rebuild of the graph.
func (ix *Index) Add(id int64, p model.LatLng) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	k, err := key(id)
	if err != nil {
		return err
	}
	if old, ok := ix.points[k]; ok {
		if old == p {
			return nil
		}
		ix.points[k] = p
		ix.rebuildLocked()
		return nil
	}
	return ix.insert(id, p)
}

func (ix *Index) insert(id int64, p model.LatLng) error {
	k, err := key(id)
	if err != nil {
		return err
	}
	if _, ok := ix.points[k]; ok {
		return nil
	}
	ix.points[k] = p
	ix.graph.Insert(vector.VF32{Key: k, Vec: Unit(p)})
	return nil
}

// Nearest returns up to |k| restaurants closest to |p|, nearest first.
func (ix *Index) Nearest(p model.LatLng, k int) []Neighbor {
	return ix.search(p, k, 0)
}

// Near returns up to |k| restaurants closest to restaurant |id|, excluding
// itself. It returns nil if |id| is not indexed.
func (ix *Index) Near(id int64, k int) []Neighbor {
	ix.mu.RLock()
	p, ok := ix.points[uint32(id)]
	ix.mu.RUnlock()

	if !ok || id <= 0 || id > math.MaxUint32 {
		return nil
	}
	return ix.search(p, k, uint32(id))
}

func (ix *Index) search(p model.LatLng, k int, exclude uint32) []Neighbor {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if k <= 0 || len(ix.points) == 0 {
		return nil
	}
	// Nearby points are close to float32 resolution under cosine distance,
	// so a wide candidate set is re-ranked by exact distance.
	var want = max(4*k, minCandidates)
	var ef = max(2*want, 100)

	var out []Neighbor
	for _, v := range ix.graph.Search(vector.VF32{Vec: Unit(p)}, want, ef) {
		if v.Key == exclude {
			continue
		}
		q, ok := ix.points[v.Key]
		if !ok {
			continue
		}
		out = append(out, Neighbor{ID: int64(v.Key), Meters: Haversine(p, q)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Meters < out[j].Meters })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// snapshot is the persisted form of an Index.
type snapshot struct {
	Nodes  hnsw.Nodes[vector.VF32]
	Points map[uint32]model.LatLng
}

// Save persists the index to FS.
func (ix *Index) Save() error {
	if ix.FS == nil {
		return nil
	}
	ix.mu.RLock()
	var snap = snapshot{Nodes: ix.graph.Nodes(), Points: ix.points}
	var buf bytes.Buffer
	var err = gob.NewEncoder(&buf).Encode(&snap)
	ix.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("failed to encode nearby index: %w", err)
	}
	if err := hackpadfs.WriteFullFile(ix.FS, ix.Path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write nearby index: %w", err)
	}
	return nil
}

// Load reads the index from FS.
func (ix *Index) Load() error {
	content, err := hackpadfs.ReadFile(ix.FS, ix.Path)
	if err != nil {
		return err
	}
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(content)).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode nearby index: %w", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.graph = hnsw.FromNodes[vector.VF32](vector.SurfaceVF32(kvector.Cosine()), snap.Nodes)
	ix.points = snap.Points
	if ix.points == nil {
		ix.points = make(map[uint32]model.LatLng)
	}
	// Graphs saved with vectors of another length are rebuilt from points.
	for _, n := range snap.Nodes.Heap {
		if l := len(n.Vector.Vec); l != 0 && l != Dims {
			ix.rebuildLocked()
			break
		}
	}
	return nil
}

func (ix *Index) rebuildLocked() {
	var points = ix.points
	ix.reset()
	for k, p := range points {
		ix.points[k] = p
		ix.graph.Insert(vector.VF32{Key: k, Vec: Unit(p)})
	}
}
