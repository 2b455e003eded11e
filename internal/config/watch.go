package config

import (
	"context"
	"log/slog"
	"reflect"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors path for changes and calls onChange with the newly loaded
// Config each time the file is written. It runs until ctx is cancelled.
// Each successful reload logs which top-level sections actually changed, so
// an operator can see at a glance whether an edit touched timing, the
// dashboard, the destination, or routing.
//
// If a reload fails (e.g., invalid YAML, a credential env var went away),
// the error is logged and the previous config remains active; Watch does
// not call onChange.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}

	// Baseline for the section diff. A load failure here is not fatal: the
	// first successful reload then reports every section as changed.
	prev, err := Load(path)
	if err != nil {
		slog.Warn("config: cannot baseline for change detection", "path", path, "err", err)
	}

	slog.Info("config: watching for changes", "path", path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Only reload on write or create events. Editors often write via
			// rename (atomic save), so also catch fsnotify.Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config",
					"path", path, "err", err)
				continue
			}

			// Re-add the file in case an atomic save replaced the inode.
			_ = watcher.Add(path)

			changed := changedSections(prev, cfg)
			if len(changed) == 0 {
				slog.Info("config: file rewritten, no effective change", "path", path)
				continue
			}
			slog.Info("config: reloaded", "path", path, "changed", changed)
			prev = cfg
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// changedSections names the top-level sections that differ between two
// loaded configs. A nil old config reports every section.
func changedSections(old, cur *Config) []string {
	if old == nil {
		return []string{"agent", "dashboard", "destination", "routing"}
	}
	var out []string
	if !reflect.DeepEqual(old.Agent, cur.Agent) {
		out = append(out, "agent")
	}
	if !reflect.DeepEqual(old.Dashboard, cur.Dashboard) {
		out = append(out, "dashboard")
	}
	if !reflect.DeepEqual(old.Destination, cur.Destination) {
		out = append(out, "destination")
	}
	if !reflect.DeepEqual(old.Routing, cur.Routing) {
		out = append(out, "routing")
	}
	return out
}
