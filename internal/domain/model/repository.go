// Package model defines the domain entities of the merge pipeline.
package model

import "time"

// Repository identifies a VCS repository tracked by coverdeck. Provider plus
// ServiceID form the stable identity used to derive the archive storage hash.
type Repository struct {
	ID        int64
	Provider  string // "github", "gitlab", "bitbucket"
	ServiceID string // provider-side repository ID
	Name      string
	// BundleCaching lists bundle names with caching enabled. A bundle carried
	// forward from a parent commit survives only if its name appears here.
	BundleCaching []string
	CreatedAt     time.Time
}

// CachingEnabled reports whether carry-forward caching is enabled for the
// given bundle name.
func (r Repository) CachingEnabled(bundleName string) bool {
	for _, name := range r.BundleCaching {
		if name == bundleName {
			return true
		}
	}
	return false
}
