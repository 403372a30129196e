package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/yaoapp/kun/log"
	"gopkg.in/yaml.v3"
)

// ManifestFile the name of the directory manifest
const ManifestFile = "manifest.yaml"

var extensions = []string{".js", ".ts"}

// ReadManifest reads the manifest of a script directory. Without a manifest
// every .js and .ts file of the directory is a restricted script named after
// the file.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err == nil {
		manifest := &Manifest{}
		if err := yaml.Unmarshal(data, manifest); err != nil {
			return nil, fmt.Errorf("%s: %s", ManifestFile, err.Error())
		}
		for i, entry := range manifest.Scripts {
			if entry.File == "" {
				return nil, fmt.Errorf("%s: script %d has no file", ManifestFile, i)
			}
			if entry.ID == "" {
				manifest.Scripts[i].ID = strings.TrimSuffix(entry.File, filepath.Ext(entry.File))
			}
		}
		return manifest, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	manifest := &Manifest{}
	for _, file := range files {
		if file.IsDir() || !scriptFile(file.Name()) {
			continue
		}
		name := file.Name()
		manifest.Scripts = append(manifest.Scripts, ManifestEntry{
			ID:   strings.TrimSuffix(name, filepath.Ext(name)),
			File: name,
		})
	}
	return manifest, nil
}

// LoadDir puts every script of the directory. Failures are collected and do not
// stop the other scripts.
func (reg *Registry) LoadDir(ctx context.Context, dir string) error {
	manifest, err := ReadManifest(dir)
	if err != nil {
		return err
	}

	errs := []error{}
	files := map[string]string{}
	for _, entry := range manifest.Scripts {
		files[filepath.Clean(entry.File)] = entry.ID
		if err := reg.loadFile(ctx, dir, entry); err != nil {
			errs = append(errs, err)
		}
	}

	reg.mu.Lock()
	reg.files = files
	reg.mu.Unlock()

	log.Info("[Script] %d scripts from %s", len(manifest.Scripts)-len(errs), dir)
	return errors.Join(errs...)
}

func (reg *Registry) loadFile(ctx context.Context, dir string, entry ManifestEntry) error {
	source, err := os.ReadFile(filepath.Join(dir, entry.File))
	if err != nil {
		return fmt.Errorf("%s: %s", entry.ID, err.Error())
	}
	privileged := entry.Privileged || reg.option.privileged(entry.ID)
	if _, err := reg.Put(ctx, entry.ID, filepath.Base(entry.File), string(source), &privileged); err != nil {
		log.Error("[Script] %s: %s", entry.File, err.Error())
		return fmt.Errorf("%s: %w", entry.ID, err)
	}
	return nil
}

// Watch reloads the directory scripts on change until the context is done.
// A manifest change reloads the whole directory; a script change reloads the
// script; a removed file deletes the script.
func (reg *Registry) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	log.Info("[Script] watching %s", dir)

	go func() {
		defer watcher.Close()

		// editors write a file in several steps
		var mu sync.Mutex
		timers := map[string]*time.Timer{}
		debounce := func(name string, fn func()) {
			mu.Lock()
			defer mu.Unlock()
			if timer, has := timers[name]; has {
				timer.Stop()
			}
			timers[name] = time.AfterFunc(100*time.Millisecond, func() {
				mu.Lock()
				delete(timers, name)
				mu.Unlock()
				if ctx.Err() == nil {
					fn()
				}
			})
		}

		for {
			select {
			case <-ctx.Done():
				log.Info("[Script] watch %s exit", dir)
				return

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error("[Script] watch %s: %s", dir, err.Error())

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := filepath.Base(event.Name)
				if name == ManifestFile {
					debounce(name, func() {
						if err := reg.LoadDir(ctx, dir); err != nil {
							log.Error("[Script] reload %s: %s", dir, err.Error())
						}
					})
					continue
				}
				if !scriptFile(name) {
					continue
				}
				debounce(name, func() { reg.changed(ctx, dir, name) })
			}
		}
	}()
	return nil
}

// changed reloads or deletes the script of a changed file
func (reg *Registry) changed(ctx context.Context, dir string, name string) {
	manifest, err := ReadManifest(dir)
	if err != nil {
		log.Error("[Script] reload %s: %s", name, err.Error())
		return
	}

	_, statErr := os.Stat(filepath.Join(dir, name))
	if os.IsNotExist(statErr) {
		reg.mu.Lock()
		id, has := reg.files[name]
		delete(reg.files, name)
		reg.mu.Unlock()
		if has {
			if _, err := reg.Delete(id); err != nil {
				log.Error("[Script] delete %s: %s", id, err.Error())
			}
		}
		return
	}

	for _, entry := range manifest.Scripts {
		if filepath.Clean(entry.File) != name {
			continue
		}
		reg.mu.Lock()
		reg.files[name] = entry.ID
		reg.mu.Unlock()
		if err := reg.loadFile(ctx, dir, entry); err == nil {
			log.Info("[Script] %s reloaded", entry.ID)
		}
		return
	}
}

func scriptFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// Check compiles every script of the directory without running anything. The
// result maps each script id to its compilation error, nil when it compiles.
func Check(compiler Compiler, dir string) (map[string]error, error) {
	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	res := make(map[string]error, len(manifest.Scripts))
	for _, entry := range manifest.Scripts {
		if !IDPattern.MatchString(entry.ID) {
			res[entry.ID] = fmt.Errorf("invalid script id %q", entry.ID)
			continue
		}
		source, err := os.ReadFile(filepath.Join(dir, entry.File))
		if err != nil {
			res[entry.ID] = err
			continue
		}
		_, res[entry.ID] = compiler.Compile(entry.ID, filepath.Base(entry.File), string(source))
	}
	return res, nil
}
