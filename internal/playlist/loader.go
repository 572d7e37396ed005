// Package playlist drives the CLI-style playlist loop: each line read from stdin names a
// directory of .opus files to play in a loop, with a filesystem watcher picking up files added
// to the active directory without interrupting playback.
package playlist

import (
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/WinterCore/octopus/internal/engine"
	"github.com/WinterCore/octopus/internal/wsapi"
)

// playlistFiles is a mutex-guarded, reorderable track list shared between the playback loop and
// the fsnotify watcher goroutine.
type playlistFiles struct {
	mu    sync.Mutex
	files []string
}

func (p *playlistFiles) at(i int) (string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.files)
	if n == 0 {
		return "", 0
	}
	return p.files[i%n], n
}

func (p *playlistFiles) add(file string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files = append(p.files, file)
	sort.Strings(p.files)
}

// Play loops over dir's .opus files indefinitely via handle, broadcasting metadata on every
// track boundary, until a newer call to Play (on another goroutine) pre-empts it by starting a
// different track.
//
// Play spawns its own goroutine and returns immediately; dir is enumerated once up front and then
// kept live by a best-effort fsnotify watch for newly created .opus files.
func Play(handle engine.Handle, ws *wsapi.Server, dir string) error {
	files, err := engine.ListOpusFiles(dir)
	if err != nil {
		return err
	}

	watcher, watchErr := fsnotify.NewWatcher()
	if watchErr == nil {
		if err := watcher.Add(dir); err != nil {
			log.Printf("playlist: watch %s: %v", dir, err)
			_ = watcher.Close()
			watcher = nil
		}
	} else {
		log.Printf("playlist: fsnotify unavailable: %v", watchErr)
		watcher = nil
	}

	pf := &playlistFiles{files: files}
	go run(handle, ws, dir, pf, watcher)
	return nil
}

func run(handle engine.Handle, ws *wsapi.Server, dir string, pf *playlistFiles, watcher *fsnotify.Watcher) {
	if watcher != nil {
		defer watcher.Close()
		go watchForNewTracks(watcher, pf)
	}

	i := 0
	for {
		file, n := pf.at(i)
		if n == 0 {
			log.Printf("playlist: %s has no tracks left to play", dir)
			return
		}

		result, err := handle.PlayFile(file)
		if err != nil {
			log.Printf("playlist: play %s: %v", file, err)
			return
		}

		switch result.Kind {
		case engine.Finished:
			log.Printf("playlist: finished %s", file)
			ws.BroadcastOnTrackBoundary()
		case engine.Interrupted:
			log.Printf("playlist: interrupted %s", file)
			ws.BroadcastOnTrackBoundary()
			return
		case engine.Errored:
			log.Printf("playlist: error playing %s: %v", file, result.Err)
		}

		i++
	}
}

// watchForNewTracks appends newly created .opus files to pf as fsnotify reports them.
func watchForNewTracks(watcher *fsnotify.Watcher, pf *playlistFiles) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			if !strings.EqualFold(extOf(event.Name), ".opus") {
				continue
			}
			pf.add(event.Name)
			log.Printf("playlist: picked up new track %s", event.Name)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("playlist: watch error: %v", err)
		}
	}
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}
