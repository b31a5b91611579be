package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Provider exposes the settings in effect right now.
type Provider interface {
	Current() *Settings
}

// Static is an in-memory provider. Set swaps the snapshot atomically.
type Static struct {
	current atomic.Pointer[Settings]
}

func NewStatic(s Settings) *Static {
	p := &Static{}
	p.Set(s)
	return p
}

func (p *Static) Current() *Settings { return p.current.Load() }

func (p *Static) Set(s Settings) { p.current.Store(&s) }

// Load reads a settings file. The format follows the extension: .yaml/.yml
// or .toml. Missing keys keep their Default values.
func Load(path string) (Settings, error) {
	s := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("read settings file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &s)
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal(data, &s)
	default:
		return s, fmt.Errorf("unsupported settings format %q", filepath.Ext(path))
	}
	if err != nil {
		return s, fmt.Errorf("parse settings file: %w", err)
	}
	if s.Voices == nil {
		s.Voices = map[string]string{}
	}
	return s, nil
}

// FileProvider keeps the snapshot of a settings file and reloads it when the
// file changes on disk.
type FileProvider struct {
	path    string
	log     *slog.Logger
	current atomic.Pointer[Settings]
}

func NewFileProvider(path string, log *slog.Logger) (*FileProvider, error) {
	if path == "" {
		return nil, errors.New("settings path must not be empty")
	}
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	p := &FileProvider{
		path: path,
		log:  log.With(slog.String("component", "settings")),
	}
	p.current.Store(&s)
	return p, nil
}

func (p *FileProvider) Current() *Settings { return p.current.Load() }

// Reload re-reads the file. On failure the previous snapshot stays active.
func (p *FileProvider) Reload() error {
	s, err := Load(p.path)
	if err != nil {
		return err
	}
	p.current.Store(&s)
	p.log.Info("settings reloaded", slog.String("path", p.path), slog.Bool("enabled", s.Enabled), slog.String("engine", s.Engine))
	return nil
}

// Watch blocks until ctx is done, reloading on writes to the settings file.
// The parent directory is watched so editors that replace files are handled.
func (p *FileProvider) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(p.path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch settings dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			if err := p.Reload(); err != nil {
				p.log.Warn("settings reload failed", slog.String("error", err.Error()))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.log.Warn("settings watcher error", slog.String("error", err.Error()))
		}
	}
}
