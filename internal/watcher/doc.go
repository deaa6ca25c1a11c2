// Package watcher watches corpus files and rebuilds indexes when they change.
//
// fsnotify watches the parent directory of every file, so atomic saves that
// replace a file by rename are seen. When fsnotify cannot be initialised the
// watcher falls back to polling file size and modification time.
//
// Bursts of events are debounced into batches:
//
//	w, err := watcher.NewFileWatcher([]string{"sops.json"}, watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go func() { _ = w.Start(ctx) }()
//	return watcher.Run(ctx, w.Events(), engine.Reindex, logger)
package watcher
