// Package knowledge loads the reference texts some stages put in front of
// the model: the coaching principles and the archetype descriptions.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// File names inside a knowledge directory.
const (
	PrinciplesFile = "model_principles.txt"
	ArchetypesFile = "archetypes.txt"
)

// Texts are the knowledge texts.
type Texts struct {
	Principles string
	Archetypes string
}

// Loader supplies knowledge texts.
type Loader interface {
	Load(ctx context.Context) (Texts, error)
}

// Static is a Loader over fixed texts.
type Static Texts

// Load implements Loader.
func (s Static) Load(context.Context) (Texts, error) {
	return Texts(s), nil
}

// NotFound is the text substituted for a missing knowledge file.
func NotFound(name string) string {
	return fmt.Sprintf("Knowledge file %s not found.", name)
}

// FileLoader reads knowledge texts from a directory and caches them until a
// file changes.
//
// A missing file is not an error: its text becomes NotFound(name). Other
// read failures are returned and nothing is cached.
type FileLoader struct {
	dir    string
	logger *zap.Logger

	mu     sync.Mutex
	cached *Texts
}

// Option configures a FileLoader.
type Option func(*FileLoader)

// WithLogger sets the loader's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *FileLoader) {
		l.logger = logger
	}
}

// NewFileLoader creates a FileLoader for dir.
func NewFileLoader(dir string, opts ...Option) *FileLoader {
	l := &FileLoader{dir: dir, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dir returns the watched directory.
func (l *FileLoader) Dir() string {
	return l.dir
}

// Load implements Loader.
func (l *FileLoader) Load(ctx context.Context) (Texts, error) {
	if err := ctx.Err(); err != nil {
		return Texts{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cached != nil {
		return *l.cached, nil
	}

	principles, err := l.read(PrinciplesFile)
	if err != nil {
		return Texts{}, err
	}
	archetypes, err := l.read(ArchetypesFile)
	if err != nil {
		return Texts{}, err
	}

	l.cached = &Texts{Principles: principles, Archetypes: archetypes}
	return *l.cached, nil
}

func (l *FileLoader) read(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(l.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Warn("knowledge file missing", zap.String("dir", l.dir), zap.String("file", name))
		return NotFound(name), nil
	}
	if err != nil {
		return "", fmt.Errorf("read knowledge file %s: %w", name, err)
	}
	return string(data), nil
}

// Invalidate drops the cache so the next Load rereads the files.
func (l *FileLoader) Invalidate() {
	l.mu.Lock()
	l.cached = nil
	l.mu.Unlock()
}

// Watch invalidates the cache whenever a knowledge file in the directory is
// created, written, removed or renamed. It blocks until ctx is done.
//
// The ready channel, if not nil, is closed once the directory is watched.
func (l *FileLoader) Watch(ctx context.Context, ready chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}
	l.logger.Info("watching knowledge directory", zap.String("dir", l.dir))
	if ready != nil {
		close(ready)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isKnowledgeFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			l.logger.Debug("knowledge file changed",
				zap.String("file", filepath.Base(event.Name)),
				zap.String("op", event.Op.String()),
			)
			l.Invalidate()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("knowledge watcher error", zap.Error(err))
		}
	}
}

func isKnowledgeFile(path string) bool {
	switch filepath.Base(path) {
	case PrinciplesFile, ArchetypesFile:
		return true
	}
	return false
}
