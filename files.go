package deltashare

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/florinutz/deltashare/action"
	"github.com/florinutz/deltashare/capability"
	"github.com/florinutz/deltashare/internal/safegoroutine"
	"github.com/florinutz/deltashare/metrics"
	"github.com/florinutz/deltashare/pagination"
	"github.com/florinutz/deltashare/predicate"
	"github.com/florinutz/deltashare/registry"
	"github.com/florinutz/deltashare/sharingerr"
	"github.com/florinutz/deltashare/signer"
	"github.com/florinutz/deltashare/snapshot"
	"github.com/florinutz/deltashare/wire"
)

// ListRequest selects one page of a snapshot's files.
type ListRequest struct {
	// Token continues a previous listing; empty starts from the first file.
	Token string
	// PageSize is zero for the server default.
	PageSize int
	// Predicates are JSON predicate hints. Files whose partition values make
	// every hint false are skipped.
	Predicates []string
	// Format selects how deletion vectors are served. Empty means parquet.
	Format string
	// AnnotateVersion adds the snapshot version and commit timestamp to each
	// file, as done for queries that named a version or timestamp.
	AnnotateVersion bool
}

// FileGrant is an active file paired with its signed URL.
type FileGrant struct {
	ID        string
	URL       string
	ExpiresAt time.Time
	// File is the log entry; its path is relative to the table root unless
	// it is an absolute URI.
	File      action.AddFile
	Version   *int64
	Timestamp *int64
	// DeletionVectorURL is the signed location of a file-backed deletion
	// vector, set for the delta format only.
	DeletionVectorURL string
}

func (g FileGrant) wire() wire.File {
	return wire.File{
		ID:                g.ID,
		URL:               g.URL,
		ExpiresAt:         g.ExpiresAt.UnixMilli(),
		Add:               g.File,
		Version:           g.Version,
		Timestamp:         g.Timestamp,
		DeletionVectorURL: g.DeletionVectorURL,
	}
}

// FilePage is one page of a listing ready to be written out.
type FilePage struct {
	Protocol action.Protocol
	Metadata action.Metadata
	Version  int64
	Size     int64
	NumFiles int
	Files    []FileGrant
	// NextToken is empty on the last page.
	NextToken string
}

// MinExpiry returns the earliest URL expiry in the page, or the zero time
// for an empty page.
func (p *FilePage) MinExpiry() time.Time {
	var out time.Time
	for _, f := range p.Files {
		if out.IsZero() || f.ExpiresAt.Before(out) {
			out = f.ExpiresAt
		}
	}
	return out
}

// Encode writes the page as protocol, metaData, file and endStreamAction lines.
func (p *FilePage) Encode(enc *wire.Encoder) error {
	if err := enc.Protocol(p.Protocol); err != nil {
		return err
	}
	if err := enc.Metadata(p.Metadata, &wire.TableStats{Version: p.Version, Size: p.Size, NumFiles: p.NumFiles}); err != nil {
		return err
	}
	for _, f := range p.Files {
		if err := enc.File(f.wire()); err != nil {
			return err
		}
	}
	var minExpiry int64
	if t := p.MinExpiry(); !t.IsZero() {
		minExpiry = t.UnixMilli()
	}
	return enc.EndStream(p.NextToken, minExpiry)
}

// ListFiles returns one page of snap's active files with signed URLs. The
// page fails as a whole if any grant cannot be issued.
func (s *Service) ListFiles(ctx context.Context, table registry.Table, snap *snapshot.Snapshot, req ListRequest) (*FilePage, error) {
	if req.PageSize < 0 {
		return nil, &sharingerr.InvalidRequestError{Field: "maxFiles", Reason: "must not be negative"}
	}
	files := s.prune(snap, req.Predicates)
	page, err := s.paginator.Page(pagination.Request{
		TableID:     table.ID,
		Version:     snap.Version,
		Token:       req.Token,
		PageSize:    req.PageSize,
		Fingerprint: fingerprint(req.Predicates),
	}, files)
	if err != nil {
		return nil, err
	}

	grants, err := s.signPage(ctx, table, page.Files, req.Format == capability.FormatDelta)
	if err != nil {
		return nil, err
	}
	if req.AnnotateVersion {
		v, ts := snap.Version, snap.CommitTimestamp
		for i := range grants {
			grants[i].Version, grants[i].Timestamp = &v, &ts
		}
	}
	metrics.FilesServed.Add(float64(len(grants)))

	return &FilePage{
		Protocol:  snap.Protocol,
		Metadata:  snap.Metadata,
		Version:   snap.Version,
		Size:      snap.Size(),
		NumFiles:  snap.NumFiles(),
		Files:     grants,
		NextToken: page.NextToken,
	}, nil
}

// prune drops files that no predicate hint can match. An invalid hint
// disables pruning for the request.
func (s *Service) prune(snap *snapshot.Snapshot, hints []string) []action.AddFile {
	files := snap.Files()
	if len(hints) == 0 {
		return files
	}
	exprs := make([]*predicate.Expr, 0, len(hints))
	for _, h := range hints {
		e, err := predicate.Parse(h)
		if err != nil {
			s.logger.Debug("ignoring predicate hints", "error", err)
			return files
		}
		exprs = append(exprs, e)
	}
	partCols := snap.Metadata.PartitionColumns
	kept := files[:0]
	for _, f := range files {
		keep := true
		for _, e := range exprs {
			if !e.Keep(f.PartitionValues, partCols) {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, f)
		}
	}
	if pruned := len(files) - len(kept); pruned > 0 {
		metrics.FilesPruned.Add(float64(pruned))
	}
	return kept
}

// fingerprint binds a continuation token to the hints that shaped the file
// list it indexes into.
func fingerprint(hints []string) string {
	if len(hints) == 0 {
		return ""
	}
	h := sha256.Sum256([]byte(strings.Join(hints, "\x00")))
	return hex.EncodeToString(h[:8])
}

// FileID is the stable identifier of a data file within a table.
func FileID(path string) string {
	sum := md5.Sum([]byte(path))
	return hex.EncodeToString(sum[:])
}

// FileLocation resolves a log path against the table root. Relative paths
// in the log are URL-encoded.
func FileLocation(tableRoot, path string) (string, error) {
	if u, err := url.Parse(path); err == nil && u.Scheme != "" {
		return path, nil
	}
	p, err := url.PathUnescape(path)
	if err != nil {
		return "", fmt.Errorf("decode file path %q: %w", path, err)
	}
	return strings.TrimRight(tableRoot, "/") + "/" + p, nil
}

func (s *Service) signPage(ctx context.Context, table registry.Table, files []action.AddFile, delta bool) ([]FileGrant, error) {
	grants := make([]FileGrant, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.signConcurrency)
	for i := range files {
		f := files[i]
		safegoroutine.Go(g, s.logger, "grant_signer", func() error {
			loc, err := FileLocation(table.Location, f.Path)
			if err != nil {
				return err
			}
			grant, err := s.sign(gctx, f.Path, loc)
			if err != nil {
				return err
			}
			fg := FileGrant{ID: FileID(f.Path), URL: grant.URL, ExpiresAt: grant.ExpiresAt, File: f}

			if dv := f.DeletionVector; delta && dv != nil && !dv.IsInline() {
				dvLoc, err := dv.AbsolutePath(table.Location)
				if err != nil {
					return fmt.Errorf("file %s: %w", f.Path, err)
				}
				dvGrant, err := s.sign(gctx, f.Path, dvLoc)
				if err != nil {
					return err
				}
				fg.DeletionVectorURL = dvGrant.URL
				if dvGrant.ExpiresAt.Before(fg.ExpiresAt) {
					fg.ExpiresAt = dvGrant.ExpiresAt
				}
			}
			grants[i] = fg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return grants, nil
}

// sign requests one grant with retries on signer outages.
func (s *Service) sign(ctx context.Context, path, location string) (signer.Grant, error) {
	var grant signer.Grant
	policy := s.retry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		metrics.GrantRetries.Inc()
		s.logger.Debug("retrying grant", "path", path, "attempt", attempt, "delay", delay, "error", err)
	}
	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		var err error
		grant, err = s.signer.Sign(ctx, location, s.urlExpiry)
		return err
	})
	if err == nil {
		return grant, nil
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return signer.Grant{}, err
	}
	metrics.GrantFailures.Inc()
	s.logger.Warn("grant issuance failed", "path", path, "attempts", attempts, "error", err)
	return signer.Grant{}, &sharingerr.GrantIssuanceError{Path: path, Attempts: attempts, Err: err}
}
