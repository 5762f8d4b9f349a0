package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// entryExtensions are probed in order when locating an entry file.
var entryExtensions = []string{".json", ".yaml", ".yml"}

// FileClient is a Client backed by a directory tree:
//
//	<Dir>/<namespace>/<group>/<dataID>.json
//
// Both .json and .yaml/.yml entry files are supported. The version tag is
// the SHA-256 of the file content, so any edit to the file (by Publish or
// by an operator's editor) produces a new tag.
//
// Watch uses fsnotify on the group directory with a coarse re-stat
// fallback, so atomic saves that replace the inode are still detected.
//
// FileClient is intended for local development and single-host
// deployments; it has no availability failure mode beyond filesystem
// errors, which are reported as transport errors.
type FileClient struct {
	// Dir is the root of the entry tree.
	Dir string
}

// NewFileClient returns a client rooted at dir.
func NewFileClient(dir string) *FileClient {
	return &FileClient{Dir: dir}
}

// Name returns "file".
func (f *FileClient) Name() string { return "file" }

// entryPath returns the existing file for an entry, or "" if none exists.
func (f *FileClient) entryPath(namespace, group, dataID string) string {
	base := filepath.Join(f.Dir, namespace, group, dataID)
	for _, ext := range entryExtensions {
		if _, err := os.Stat(base + ext); err == nil {
			return base + ext
		}
	}
	return ""
}

func contentTag(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Fetch reads the entry file and returns its content and content hash.
func (f *FileClient) Fetch(ctx context.Context, namespace, group, dataID string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	path := f.entryPath(namespace, group, dataID)
	if path == "" {
		return nil, "", ErrNotFound
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", &TransportError{Op: "fetch", Err: err}
	}
	return content, contentTag(content), nil
}

// Publish writes the entry file, creating parent directories as needed.
// Content must be well-formed JSON or YAML; malformed content is rejected
// here rather than poisoning every consumer downstream.
//
// An existing entry keeps its extension; new entries are written as .json.
func (f *FileClient) Publish(ctx context.Context, namespace, group, dataID string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var probe any
	if err := yaml.Unmarshal(content, &probe); err != nil {
		return fmt.Errorf("malformed entry content: %w", err)
	}

	path := f.entryPath(namespace, group, dataID)
	if path == "" {
		path = filepath.Join(f.Dir, namespace, group, dataID+".json")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &TransportError{Op: "publish", Err: err}
	}
	// Write-then-rename so watchers never read a half-written file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return &TransportError{Op: "publish", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &TransportError{Op: "publish", Err: err}
	}
	return nil
}

// Remove deletes the entry file.
func (f *FileClient) Remove(ctx context.Context, namespace, group, dataID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := f.entryPath(namespace, group, dataID)
	if path == "" {
		return ErrNotFound
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return &TransportError{Op: "remove", Err: err}
	}
	return nil
}

// Watch blocks until the entry's content hash differs from lastVersionTag,
// the timeout elapses, or the entry disappears.
func (f *FileClient) Watch(ctx context.Context, namespace, group, dataID, lastVersionTag string, timeout time.Duration) (WatchResult, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	// Re-stat at a coarse interval in case fsnotify misses an event
	// (unwatchable directory, network filesystem).
	pollEvery := timeout / 4
	if pollEvery < time.Second {
		pollEvery = time.Second
	}
	poll := time.NewTicker(pollEvery)
	defer poll.Stop()

	groupDir := filepath.Join(f.Dir, namespace, group)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return WatchResult{}, &TransportError{Op: "watch", Err: err}
	}
	defer watcher.Close()
	// The group directory may not exist yet; the poll ticker covers that
	// window and we re-add once it appears.
	_ = watcher.Add(groupDir)

	check := func() (WatchResult, bool, error) {
		content, tag, err := f.Fetch(ctx, namespace, group, dataID)
		switch {
		case err == ErrNotFound:
			if lastVersionTag != "" {
				return WatchResult{}, true, ErrNotFound
			}
			return WatchResult{}, false, nil
		case err != nil:
			return WatchResult{}, true, err
		case tag != lastVersionTag:
			return WatchResult{Changed: true, Content: content, VersionTag: tag}, true, nil
		}
		return WatchResult{}, false, nil
	}

	if res, done, err := check(); done {
		return res, err
	}

	for {
		select {
		case <-ctx.Done():
			return WatchResult{}, ctx.Err()
		case <-deadline.C:
			return WatchResult{}, nil
		case <-poll.C:
			_ = watcher.Add(groupDir)
			if res, done, err := check(); done {
				return res, err
			}
		case event, ok := <-watcher.Events:
			if !ok {
				return WatchResult{}, &TransportError{Op: "watch", Err: fmt.Errorf("watcher closed")}
			}
			// Editors often save via rename, so Create matters as much
			// as Write. Removal of the watched file matters too.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if res, done, err := check(); done {
				return res, err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return WatchResult{}, &TransportError{Op: "watch", Err: fmt.Errorf("watcher closed")}
			}
			return WatchResult{}, &TransportError{Op: "watch", Err: err}
		}
	}
}
