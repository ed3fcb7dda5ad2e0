package release

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/farmrobo-dev/fruploader/internal/metrics"
	"github.com/farmrobo-dev/fruploader/internal/store"
)

const defaultParallelDownloads = 4

// DownloadRecorder persists download attempts. *store.Store implements it.
type DownloadRecorder interface {
	AddDownload(store.DownloadRecord) error
}

// Installer downloads the latest release into Dir and records the
// installed version in Marker.
type Installer struct {
	Client   *Client
	Dir      string
	Marker   string
	Recorder DownloadRecorder
	Log      *zap.Logger
	Parallel int
}

// Install fetches every asset of the latest release. The marker is only
// written once all assets are in place, so a partial download never looks
// like an installed version. Files are written to a temp name first and
// renamed, so an interrupted download leaves the previous file intact.
func (i *Installer) Install(ctx context.Context) (Release, error) {
	log := i.Log
	if log == nil {
		log = zap.NewNop()
	}

	rel, err := i.Client.Latest(ctx)
	if err != nil {
		status := "failed"
		if errors.Is(err, ErrNetworkUnavailable) {
			status = "offline"
		}
		metrics.DownloadsTotal.WithLabelValues(status).Inc()
		log.Warn("fetch latest release", zap.Error(err))
		i.record(store.DownloadRecord{Version: NoVersion, Timestamp: time.Now(), Error: err.Error()}, log)
		return Release{}, err
	}

	log.Info("downloading release", zap.String("version", rel.Tag), zap.Int("assets", len(rel.Assets)))
	names, err := i.downloadAll(ctx, rel.Assets)
	if err == nil {
		err = WriteMarker(i.Marker, rel.Tag)
	}

	rec := store.DownloadRecord{Version: rel.Tag, Assets: names, Timestamp: time.Now(), Success: err == nil}
	if err != nil {
		rec.Error = err.Error()
		metrics.DownloadsTotal.WithLabelValues("failed").Inc()
		log.Error("release download failed", zap.String("version", rel.Tag), zap.Error(err))
	} else {
		metrics.DownloadsTotal.WithLabelValues("ok").Inc()
		log.Info("release installed", zap.String("version", rel.Tag), zap.Strings("assets", names))
	}
	i.record(rec, log)
	return rel, err
}

func (i *Installer) downloadAll(ctx context.Context, assets []Asset) ([]string, error) {
	if err := os.MkdirAll(i.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create firmware dir: %w", err)
	}

	parallel := i.Parallel
	if parallel <= 0 {
		parallel = defaultParallelDownloads
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	names := make([]string, len(assets))
	for n, a := range assets {
		a := a
		name := filepath.Base(a.Name)
		names[n] = name
		g.Go(func() error {
			return i.fetch(ctx, a, filepath.Join(i.Dir, name))
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (i *Installer) fetch(ctx context.Context, a Asset, dst string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := i.Client.Download(ctx, a, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (i *Installer) record(rec store.DownloadRecord, log *zap.Logger) {
	if i.Recorder == nil {
		return
	}
	if err := i.Recorder.AddDownload(rec); err != nil {
		log.Warn("record download", zap.Error(err))
	}
}
