package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/permitwatch/internal/hash/sha256"
	"github.com/JakeFAU/permitwatch/internal/permit"
)

const archiveContentType = "text/html; charset=utf-8"

// archivePath lays pages out as prefix/date/run/page-NN-hash.html.
func archivePath(prefix string, targetDate time.Time, runID string, index int, hash string) string {
	name := fmt.Sprintf("%s/%s/page-%02d-%s.html", targetDate.Format("2006-01-02"), runID, index+1, sha256.Short(hash))
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		return prefix + "/" + name
	}
	return name
}

// archive stores every page and returns the URIs written. Failures are logged
// and never abort the run.
func (o *Orchestrator) archive(
	ctx context.Context,
	runID string,
	targetDate time.Time,
	pages []permit.RawPage,
	logger *zap.Logger,
) []string {
	if o.blobs == nil {
		return nil
	}
	uris := make([]string, 0, len(pages))
	for i, page := range pages {
		hash, err := o.hasher.Hash(page.HTML)
		if err != nil {
			logger.Warn("hash page failed", zap.Int("page", i+1), zap.Error(err))
			continue
		}
		path := archivePath(o.cfg.ArchivePrefix, targetDate, runID, i, hash)
		uri, err := o.blobs.PutObject(ctx, path, archiveContentType, bytes.NewReader(page.HTML))
		if err != nil {
			logger.Warn("archive page failed", zap.String("path", path), zap.Error(err))
			continue
		}
		uris = append(uris, uri)
	}
	logger.Debug("pages archived", zap.Int("count", len(uris)))
	return uris
}
