package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchPolicy перечитывает файл политики при изменении и передаёт новую политику в apply.
// Невалидный файл логируется, текущая политика остаётся в силе.
func WatchPolicy(ctx context.Context, path string, apply func(Policy)) error {
	if path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Следим за каталогом: редакторы часто заменяют файл через rename.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
					continue
				}
				policy, err := LoadPolicy(path)
				if err != nil {
					log.Printf("Политика не перезагружена: %v", err)
					continue
				}
				log.Printf("Политика перезагружена из %s", path)
				apply(policy)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Println("Ошибка наблюдения за файлом политики:", err)
			}
		}
	}()
	return nil
}
