// Package assets watches the asset directory for the files the renderer
// consumes at run time: SPIR-V modules, program manifests and images.
package assets

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/anima/engine/core"
)

var ErrWatcherClosed = errors.New("asset watcher already closed")

type Kind uint8

const (
	KindNone Kind = iota
	KindShader
	KindProgram
	KindImage
)

func (k Kind) String() string {
	switch k {
	case KindShader:
		return "shader"
	case KindProgram:
		return "program"
	case KindImage:
		return "image"
	default:
		return "none"
	}
}

// DetermineKind classifies a path by its extension.
func DetermineKind(path string) Kind {
	if strings.HasSuffix(path, ".program.toml") {
		return KindProgram
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".spv":
		return KindShader
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return KindImage
	default:
		return KindNone
	}
}

// Change is an asset that was created or rewritten.
type Change struct {
	Path string
	Kind Kind
}

// Watcher reports changed assets under a directory tree. Changes are
// delivered on a channel so the render thread can apply them between
// frames.
type Watcher struct {
	fsnotify *fsnotify.Watcher

	mutex  sync.Mutex
	known  map[string]time.Time
	closed bool

	changes chan Change
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewWatcher(root string) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsnotify: fsWatch,
		known:    make(map[string]time.Time),
		changes:  make(chan Change, 64),
		done:     make(chan struct{}),
	}
	if err := w.watchRecursive(root); err != nil {
		fsWatch.Close()
		return nil, err
	}
	w.wg.Add(1)
	go w.start()
	core.LogDebug("watching %d assets under %s", len(w.known), root)
	return w, nil
}

// Changes is closed by Close.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Known returns the number of assets seen so far.
func (w *Watcher) Known() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return len(w.known)
}

func (w *Watcher) Close() error {
	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		return ErrWatcherClosed
	}
	w.closed = true
	w.mutex.Unlock()

	close(w.done)
	err := w.fsnotify.Close()
	w.wg.Wait()
	close(w.changes)
	return err
}

func (w *Watcher) start() {
	defer w.wg.Done()
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if e.Op&fsnotify.Create != 0 {
				if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
					if err := w.watchRecursive(e.Name); err != nil {
						core.LogWarn("watch %s: %s", e.Name, err)
					}
					continue
				}
			}
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				w.forget(e.Name)
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.handleFileEvent(e.Name)
			}

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-w.done:
			return
		}
	}
}

// watchRecursive adds every directory under root to the watch list and
// records the assets already there.
func (w *Watcher) watchRecursive(root string) error {
	return filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return w.fsnotify.Add(path)
		}
		if DetermineKind(path) != KindNone {
			w.mutex.Lock()
			w.known[path] = fi.ModTime()
			w.mutex.Unlock()
		}
		return nil
	})
}

// handleFileEvent forwards a change unless the file still has the
// modification time already reported. Editors and compilers often write a
// file in several steps.
func (w *Watcher) handleFileEvent(path string) {
	kind := DetermineKind(path)
	if kind == KindNone {
		return
	}
	fi, err := os.Stat(path)
	if err != nil {
		return
	}
	w.mutex.Lock()
	last, seen := w.known[path]
	w.known[path] = fi.ModTime()
	w.mutex.Unlock()
	if seen && last.Equal(fi.ModTime()) {
		return
	}

	select {
	case w.changes <- Change{Path: path, Kind: kind}:
	case <-w.done:
	}
}

func (w *Watcher) forget(path string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	delete(w.known, path)
}
