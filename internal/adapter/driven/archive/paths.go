// Package archive implements the content-addressed archive store: the
// deterministic per-repository path scheme and blob store adapters behind the
// ArchiveStore port.
package archive

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/coverdeck/coverdeck/internal/domain/model"
)

// pathVersion prefixes every archive path. Changing it requires a storage
// migration plan; the layout below is a stable contract.
const pathVersion = "v4"

// RepoHash derives the stable storage prefix for a repository from its
// identity triple and the server-side secret. The hash never changes for the
// life of the repo, so its entire footprint stays enumerable by prefix.
func RepoHash(repo model.Repository, secret string) string {
	material := strings.Join([]string{
		repo.Provider,
		repo.ServiceID,
		strconv.FormatInt(repo.ID, 10),
		secret,
	}, ":")
	return digest.FromString(material).Encoded()[:32]
}

// Paths builds archive paths under one repository's hash prefix.
type Paths struct {
	repoHash string
}

// NewPaths returns a path builder for the given repo hash.
func NewPaths(repoHash string) Paths {
	return Paths{repoHash: repoHash}
}

// RepoPrefix is the prefix under which the repository's whole footprint lives.
func (p Paths) RepoPrefix() string {
	return fmt.Sprintf("%s/repos/%s", pathVersion, p.repoHash)
}

// CommitPrefix is the prefix for one commit's artifacts.
func (p Paths) CommitPrefix(sha string) string {
	return fmt.Sprintf("%s/commits/%s", p.RepoPrefix(), sha)
}

// MergedChunks is the merged coverage artifact for a commit.
func (p Paths) MergedChunks(sha string) string {
	return p.CommitPrefix(sha) + "/chunks.txt"
}

// IntermediateChunk is the per-upload parsed line data blob.
func (p Paths) IntermediateChunk(sha string, uploadID int64) string {
	return fmt.Sprintf("%s/parallel/incremental/chunk%d", p.CommitPrefix(sha), uploadID)
}

// IntermediateFilesSessions is the per-upload file index and session metadata blob.
func (p Paths) IntermediateFilesSessions(sha string, uploadID int64) string {
	return fmt.Sprintf("%s/parallel/incremental/files_and_sessions%d", p.CommitPrefix(sha), uploadID)
}

// ScratchChunk is the experimental diff scratch copy for an upload. Only ever
// cleaned up here; nothing in the primary merge writes it.
func (p Paths) ScratchChunk(sha string, uploadID int64) string {
	return fmt.Sprintf("%s/parallel/scratch/chunk%d", p.CommitPrefix(sha), uploadID)
}

// RawUpload is the original raw payload of an upload, bucketed by date.
func (p Paths) RawUpload(date time.Time, sha, externalID string) string {
	return fmt.Sprintf("%s/raw/%s/%s/%s/%s.txt",
		pathVersion, date.UTC().Format("2006-01-02"), p.repoHash, sha, externalID)
}

// BundleReport is the merged bundle report SQLite file for a commit.
func (p Paths) BundleReport(sha string) string {
	return p.CommitPrefix(sha) + "/bundle_report.sqlite"
}
