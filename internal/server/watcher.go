package server

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/MeKo-Tech/arenacal/internal/features"
	"github.com/MeKo-Tech/arenacal/internal/session"
	"github.com/MeKo-Tech/arenacal/internal/utils"
	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is how long the directory has to stay quiet before a
// new image set is picked up.
const DefaultWatchDebounce = 750 * time.Millisecond

// ImageWatcher watches a directory that the camera rig drops stills into and
// reports a new image set once writes have settled.
type ImageWatcher struct {
	dir      string
	debounce time.Duration
	onSet    func(ctx context.Context, paths []string)
	watcher  *fsnotify.Watcher

	closeOnce sync.Once
	done      chan struct{}
}

// NewImageWatcher creates a watcher for dir. onSet is called from the
// watcher goroutine with the paths returned by FindImageSet.
func NewImageWatcher(dir string, debounce time.Duration, onSet func(ctx context.Context, paths []string)) (*ImageWatcher, error) {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &ImageWatcher{
		dir:      dir,
		debounce: debounce,
		onSet:    onSet,
		watcher:  w,
		done:     make(chan struct{}),
	}, nil
}

// Run processes filesystem events until ctx is done or the watcher is closed.
func (iw *ImageWatcher) Run(ctx context.Context) {
	timer := time.NewTimer(iw.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case event, ok := <-iw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 || !utils.IsSupportedImage(event.Name) {
				continue
			}
			timer.Reset(iw.debounce)

		case err, ok := <-iw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Image directory watcher error", "dir", iw.dir, "error", err)

		case <-timer.C:
			paths, err := FindImageSet(iw.dir)
			if err != nil {
				slog.Warn("No complete image set in watch directory", "dir", iw.dir, "error", err)
				continue
			}
			iw.onSet(ctx, paths)

		case <-ctx.Done():
			return
		case <-iw.done:
			return
		}
	}
}

// Close stops the watcher.
func (iw *ImageWatcher) Close() error {
	var err error
	iw.closeOnce.Do(func() {
		close(iw.done)
		err = iw.watcher.Close()
	})
	return err
}

// FindImageSet returns the four most recently modified images in dir, ordered
// by file name so that camera naming decides the image order.
func FindImageSet(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	var found []candidate
	for _, e := range entries {
		if e.IsDir() || !utils.IsSupportedImage(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, candidate{path: filepath.Join(dir, e.Name()), modTime: info.ModTime()})
	}
	if len(found) < features.RequiredImages {
		return nil, fmt.Errorf("found %d images, need %d", len(found), features.RequiredImages)
	}

	slices.SortStableFunc(found, func(a, b candidate) int {
		if c := b.modTime.Compare(a.modTime); c != 0 {
			return c
		}
		return cmp.Compare(a.path, b.path)
	})
	paths := make([]string, features.RequiredImages)
	for i := range paths {
		paths[i] = found[i].path
	}
	slices.Sort(paths)
	return paths, nil
}

// StartWatcher processes every image set that settles in dir: the images are
// loaded, matched and stitched in the background.
func (s *Server) StartWatcher(ctx context.Context, dir string, debounce time.Duration) error {
	w, err := NewImageWatcher(dir, debounce, s.processImageSet)
	if err != nil {
		return err
	}
	s.watcher = w
	go w.Run(ctx)
	slog.Info("Watching directory for camera images", "dir", dir)
	return nil
}

// processImageSet runs load, match and stitch for one watched image set.
func (s *Server) processImageSet(ctx context.Context, paths []string) {
	logger := slog.With("paths", paths)

	start := time.Now()
	err := s.session.LoadImageFiles(paths)
	observeStage(session.StageLoad, start, err)
	if err != nil {
		watchedSetsTotal.WithLabelValues("load_error").Inc()
		logger.Warn("Failed to load watched image set", "error", err)
		return
	}

	start = time.Now()
	err = s.session.ExtractAndMatch(ctx, s.detectorThreshold, s.matchSlider)
	observeStage(session.StageMatch, start, err)
	if err != nil {
		watchedSetsTotal.WithLabelValues("match_error").Inc()
		logger.Warn("Watched image set did not match", "error", err)
		return
	}

	h, err := s.session.Stitch(ctx)
	if err != nil {
		watchedSetsTotal.WithLabelValues("stitch_error").Inc()
		logger.Warn("Failed to start stitch for watched image set", "error", err)
		return
	}
	if _, err := h.Wait(ctx); err != nil {
		watchedSetsTotal.WithLabelValues("stitch_error").Inc()
		logger.Warn("Stitch of watched image set failed", "error", err)
		return
	}
	recordPanorama(s.session.Snapshot())
	watchedSetsTotal.WithLabelValues("stitched").Inc()
}
