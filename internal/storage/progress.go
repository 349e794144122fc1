package storage

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

type localFile struct {
	path string
	rel  string
	size int64
}

// collectFiles expands a file or directory into the list of files to
// upload, with slash-separated paths relative to the root.
func collectFiles(localPath string) ([]localFile, int64, error) {
	root := filepath.Clean(localPath)
	fi, err := os.Stat(root)
	if err != nil {
		return nil, 0, err
	}

	if !fi.IsDir() {
		return []localFile{{path: root, rel: filepath.Base(root), size: fi.Size()}}, fi.Size(), nil
	}

	var (
		files []localFile
		total int64
	)
	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, localFile{
			path: path,
			rel:  filepath.ToSlash(rel),
			size: info.Size(),
		})
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return files, total, nil
}

// progressReporter throttles progress callbacks while counting bytes
// written through it.
type progressReporter struct {
	total    int64
	done     int64
	cb       ProgressFunc
	mu       sync.Mutex
	lastFire time.Time
}

func newProgressReporter(total int64, cb ProgressFunc) *progressReporter {
	if cb == nil {
		return nil
	}
	return &progressReporter{total: total, cb: cb}
}

func (p *progressReporter) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done += int64(len(b))
	now := time.Now()
	if now.Sub(p.lastFire) >= 200*time.Millisecond || p.done == p.total {
		p.lastFire = now
		p.cb(p.done, p.total)
	}
	return len(b), nil
}

func (p *progressReporter) add(n int64) {
	if p == nil || n <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done += n
	now := time.Now()
	if now.Sub(p.lastFire) >= 200*time.Millisecond || p.done == p.total {
		p.lastFire = now
		p.cb(p.done, p.total)
	}
}

func (p *progressReporter) flush() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb(p.done, p.total)
}
