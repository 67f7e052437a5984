// Package config loads this daemon's YAML configuration file,
// discovering its path the xdg-compliant way — $XDG_CONFIG_HOME (or
// ~/.config) /muchsyncd/config.yaml, overridable with an explicit path
// — and watches it for changes with fsnotify so a running daemon can
// pick up edits without a restart.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the daemon's on-disk configuration.
type Config struct {
	// SocketPath is where `serve` listens for Unix domain socket
	// connections.
	SocketPath string `yaml:"socket_path"`
	// MaildirRoot is the root directory the sync application walks;
	// ambient here because every built-in flow that needs a
	// filesystem root reads this field, not because the protocol
	// layer interprets it.
	MaildirRoot string `yaml:"maildir_root"`
	// AcceptRatePerSecond caps new session accept rate on `serve`.
	AcceptRatePerSecond float64 `yaml:"accept_rate_per_second"`
	// IdleTimeoutSeconds closes a session that has exchanged nothing
	// for this long; zero disables idle cleanup.
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`
}

// Default returns the configuration used when no file is found and
// none was required.
func Default() Config {
	return Config{
		SocketPath:          defaultSocketPath(),
		AcceptRatePerSecond: 10,
		IdleTimeoutSeconds:  300,
	}
}

func defaultSocketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "muchsyncd.sock")
}

// ErrorKind distinguishes why loading a config file failed, so a
// caller can tell a missing-but-optional file from a config file that
// exists but is broken.
type ErrorKind int

const (
	ErrIO ErrorKind = iota
	ErrDoesNotExist
	ErrNonUTF8Path
	ErrNoConfigDir
	ErrYAML
)

// Error wraps a config-loading failure with the ErrorKind a caller
// needs to decide whether to fall back to Default().
type Error struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrDoesNotExist:
		return fmt.Sprintf("config: %s does not exist", e.Path)
	case ErrNonUTF8Path:
		return fmt.Sprintf("config: path %s is not valid UTF-8", e.Path)
	case ErrNoConfigDir:
		return "config: could not determine a config directory"
	case ErrYAML:
		return fmt.Sprintf("config: %s: invalid yaml: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("config: %s: %v", e.Path, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// DiscoverPath returns override if non-empty, otherwise the XDG
// config path $XDG_CONFIG_HOME/muchsyncd/config.yaml (falling back to
// ~/.config when XDG_CONFIG_HOME is unset, matching the xdg crate's
// own fallback).
func DiscoverPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}

	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", &Error{Kind: ErrNoConfigDir, Err: err}
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "muchsyncd", "config.yaml"), nil
}

// Load reads and parses the YAML config at path. A missing file is
// reported as ErrDoesNotExist so callers can choose to fall back to
// Default() instead of failing startup.
func Load(path string) (Config, error) {
	if !isValidUTF8Path(path) {
		return Config{}, &Error{Kind: ErrNonUTF8Path, Path: path}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, &Error{Kind: ErrDoesNotExist, Path: path, Err: err}
		}
		return Config{}, &Error{Kind: ErrIO, Path: path, Err: err}
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &Error{Kind: ErrYAML, Path: path, Err: err}
	}
	return cfg, nil
}

func isValidUTF8Path(path string) bool {
	return utf8.ValidString(path)
}

// Watcher reloads Config from path whenever it changes on disk and
// publishes the new value on Updates. Callers that don't need
// hot-reload can just call Load once and ignore this type.
type Watcher struct {
	Updates chan Config

	watcher *fsnotify.Watcher
	path    string
}

// WatchFile starts watching path's containing directory (fsnotify
// tracks directories more reliably than individual files across
// editors that replace-via-rename) and emits a reload on every write
// or create event for path itself; a replace-via-rename shows up as a
// create of path.
func WatchFile(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: starting watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watching %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		Updates: make(chan Config, 1),
		watcher: fw,
		path:    path,
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.Updates)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				continue
			}
			select {
			case w.Updates <- cfg:
			default:
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
