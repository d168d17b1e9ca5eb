// Package bundle implements the bundle-size report consumed by the bundle
// artifact processor: parsing uploaded bundle stats, asset association
// against the previous report, carry-forward pruning, and persistence of the
// merged report as a SQLite file.
package bundle

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrMalformed marks a bundle payload that cannot be parsed.
var ErrMalformed = errors.New("bundle: malformed payload")

// Asset is one emitted build artifact inside a bundle. UUID is the stable
// identity used for cross-commit diffing; association copies it from the
// matching asset in the previous report.
type Asset struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// Bundle groups the assets of one named build output.
type Bundle struct {
	Name   string  `json:"name"`
	Cached bool    `json:"cached"`
	Assets []Asset `json:"assets"`
}

// TotalBytes sums the bundle's asset sizes.
func (b *Bundle) TotalBytes() int64 {
	var n int64
	for _, a := range b.Assets {
		n += a.Size
	}
	return n
}

// AssociateAssets links b's assets to matching assets in prev by identity:
// name+hash first, then name alone. Matched assets inherit the previous
// asset's UUID so downstream diffing can follow an asset across commits.
func (b *Bundle) AssociateAssets(prev *Bundle) {
	if prev == nil {
		return
	}
	byNameHash := make(map[string]string, len(prev.Assets))
	byName := make(map[string]string, len(prev.Assets))
	for _, a := range prev.Assets {
		byNameHash[a.Name+"\x00"+a.Hash] = a.UUID
		if _, ok := byName[a.Name]; !ok {
			byName[a.Name] = a.UUID
		}
	}
	for i := range b.Assets {
		if id, ok := byNameHash[b.Assets[i].Name+"\x00"+b.Assets[i].Hash]; ok {
			b.Assets[i].UUID = id
		} else if id, ok := byName[b.Assets[i].Name]; ok {
			b.Assets[i].UUID = id
		}
	}
}

// Report is a per-commit bundle report: one entry per bundle name.
type Report struct {
	Bundles map[string]*Bundle
}

// New returns an empty bundle report.
func New() *Report {
	return &Report{Bundles: make(map[string]*Bundle)}
}

// Empty reports whether the report holds no bundles.
func (r *Report) Empty() bool {
	return len(r.Bundles) == 0
}

// Put inserts the bundle, replacing any previous entry with the same name.
// A freshly ingested bundle is never cached.
func (r *Report) Put(b *Bundle) {
	b.Cached = false
	r.Bundles[b.Name] = b
}

// Get returns the named bundle or nil.
func (r *Report) Get(name string) *Bundle {
	return r.Bundles[name]
}

// CarryForwardFrom copies bundles from prev that this report does not supply
// itself. A bundle is copied only when caching is enabled for its name; the
// copy is marked cached. Bundles without caching enabled are dropped rather
// than kept stale.
func (r *Report) CarryForwardFrom(prev *Report, cachingEnabled func(name string) bool) {
	if prev == nil {
		return
	}
	for name, b := range prev.Bundles {
		if _, ok := r.Bundles[name]; ok {
			continue
		}
		if !cachingEnabled(name) {
			continue
		}
		copied := &Bundle{
			Name:   b.Name,
			Cached: true,
			Assets: append([]Asset(nil), b.Assets...),
		}
		r.Bundles[name] = copied
	}
}

// TotalBytes sums asset sizes across all bundles.
func (r *Report) TotalBytes() int64 {
	var n int64
	for _, b := range r.Bundles {
		n += b.TotalBytes()
	}
	return n
}

// uploadPayload is the raw bundle artifact wire format.
type uploadPayload struct {
	BundleName string `json:"bundle_name"`
	Assets     []struct {
		Name string `json:"name"`
		Hash string `json:"hash"`
		Size int64  `json:"size"`
	} `json:"assets"`
}

// Parse parses one raw bundle upload payload. Each asset receives a fresh
// UUID; association against the previous report happens afterwards.
func Parse(raw []byte) (*Bundle, error) {
	var payload uploadPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if payload.BundleName == "" {
		return nil, fmt.Errorf("%w: missing bundle_name", ErrMalformed)
	}

	b := &Bundle{Name: payload.BundleName}
	for _, a := range payload.Assets {
		if a.Name == "" {
			return nil, fmt.Errorf("%w: asset without name in bundle %s", ErrMalformed, payload.BundleName)
		}
		if a.Size < 0 {
			return nil, fmt.Errorf("%w: negative size for asset %s", ErrMalformed, a.Name)
		}
		b.Assets = append(b.Assets, Asset{
			UUID: uuid.New().String(),
			Name: a.Name,
			Hash: a.Hash,
			Size: a.Size,
		})
	}
	return b, nil
}
