package filehandler

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ManouchehrRasoulli/fsmonitor/pkg/event"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/filter"
	"github.com/ManouchehrRasoulli/fsmonitor/pkg/source"
)

var (
	ErrRootNotTracked = errors.New("root is not tracked")
	ErrReadRoot       = errors.New("failed to read root")
)

type Meta struct {
	Name       string
	Size       int64
	ModifyTime time.Time
}

func (f Meta) String() string {
	return fmt.Sprintf("file meta :: file-name: %s, size: %d, modified_at: %v", f.Name, f.Size, f.ModifyTime.String())
}

// rescan is the set of flags after which the inventory of a root can no
// longer be patched and is read again from disk.
var rescan = event.NewFlagSet(event.MustScanSubDirs, event.UserDropped, event.KernelDropped, event.RootChanged)

// Handler keeps size and modification time of every regular file below the
// tracked roots, keyed by absolute path. It is a monitor delegate.
type Handler struct {
	// meta
	// absolute file path -> last known metadata.
	meta   map[string]Meta
	roots  map[string]int
	rwM    sync.RWMutex
	ignore *filter.Filter
	logger *log.Logger
}

type Option func(h *Handler)

func WithLogger(logger *log.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithFilter skips files the filter ignores.
func WithFilter(f *filter.Filter) Option {
	return func(h *Handler) {
		h.ignore = f
	}
}

func NewHandler(options ...Option) *Handler {
	h := Handler{
		meta:   make(map[string]Meta),
		roots:  make(map[string]int),
		logger: log.New(io.Discard, "", 0),
	}

	for _, op := range options {
		op(&h)
	}

	return &h
}

// Track starts keeping metadata for root. Roots are counted, so every Track
// needs its own Untrack.
func (h *Handler) Track(root string) error {
	root = filepath.Clean(root)

	h.rwM.Lock()
	defer h.rwM.Unlock()

	h.roots[root]++
	if h.roots[root] > 1 {
		return nil
	}

	h.logger.Printf("handler :: track root %s\n", root)
	if err := h.readPath(root); err != nil {
		return errors.Join(ErrReadRoot, err)
	}
	return nil
}

func (h *Handler) Untrack(root string) error {
	root = filepath.Clean(root)

	h.rwM.Lock()
	defer h.rwM.Unlock()

	count, ok := h.roots[root]
	if !ok {
		return errors.Join(ErrRootNotTracked, fmt.Errorf("%q", root))
	}
	if count > 1 {
		h.roots[root] = count - 1
		return nil
	}

	delete(h.roots, root)
	for name := range h.meta {
		if source.Covers(root, name) && !h.coveredLocked(name) {
			delete(h.meta, name)
		}
	}
	h.logger.Printf("handler :: untrack root %s, %d file(s) left\n", root, len(h.meta))
	return nil
}

func (h *Handler) GetMeta(name string) *Meta {
	h.rwM.RLock()
	defer h.rwM.RUnlock()

	if m, c := h.meta[filepath.Clean(name)]; c {
		metaCopy := m
		return &metaCopy
	}
	return nil
}

// ListFiles returns the inventory sorted by name.
func (h *Handler) ListFiles() []Meta {
	h.rwM.RLock()
	defer h.rwM.RUnlock()

	list := make([]Meta, 0, len(h.meta))
	for _, m := range h.meta {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// OnEvent patches the inventory for a single event.
func (h *Handler) OnEvent(e event.FileEvent) {
	name := filepath.Clean(e.Path)
	if h.ignore.Ignored(name) {
		return
	}

	h.rwM.Lock()
	defer h.rwM.Unlock()

	if !h.coveredLocked(name) {
		return
	}

	if !e.Flags.IsDisjoint(rescan) {
		h.logger.Printf("handler :: rescan %s on event %s\n", name, e)
		h.forgetLocked(name)
		if err := h.readPath(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.Printf("handler error :: rescan %s: %v\n", name, err)
		}
		return
	}

	fi, err := os.Stat(name)
	if err != nil {
		// removed, or renamed away from this name
		if _, ok := h.meta[name]; ok {
			h.logger.Printf("handler :: remove file meta --> %s, on event %s\n", h.meta[name], e)
		}
		h.forgetLocked(name)
		return
	}

	if fi.IsDir() {
		if e.Has(event.ItemCreated) || e.Has(event.ItemRenamed) {
			if err := h.readPath(name); err != nil {
				h.logger.Printf("handler error :: read directory %s: %v\n", name, err)
			}
		}
		return
	}

	if !fi.Mode().IsRegular() {
		return
	}

	meta := Meta{
		Name:       name,
		Size:       fi.Size(),
		ModifyTime: fi.ModTime(),
	}
	if _, contains := h.meta[name]; contains {
		h.logger.Printf("handler :: got modification on file meta --> %s, on event %s\n", meta, e)
	} else {
		h.logger.Printf("handler :: got new file meta --> %s, on event %s\n", meta, e)
	}
	h.meta[name] = meta
}

// readPath adds path, or every regular file below it, to the inventory.
func (h *Handler) readPath(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		h.store(path, fi)
		return nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := filepath.Join(path, entry.Name())
		if h.ignore.Ignored(name) {
			continue
		}
		if entry.IsDir() {
			if err := h.readPath(name); err != nil {
				h.logger.Printf("handler error :: skip %s: %v\n", name, err)
			}
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		h.store(name, info)
	}

	return nil
}

func (h *Handler) store(name string, fi os.FileInfo) {
	if !fi.Mode().IsRegular() || h.ignore.Ignored(name) {
		return
	}
	h.meta[name] = Meta{
		Name:       name,
		Size:       fi.Size(),
		ModifyTime: fi.ModTime(),
	}
}

func (h *Handler) forgetLocked(path string) {
	for name := range h.meta {
		if source.Covers(path, name) {
			delete(h.meta, name)
		}
	}
}

func (h *Handler) coveredLocked(path string) bool {
	for root := range h.roots {
		if source.Covers(root, path) {
			return true
		}
	}
	return false
}
