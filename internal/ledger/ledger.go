// Package ledger tracks every URL ever crawled so later runs skip them.
package ledger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Ledger is a durable, grow-only set of crawled URLs. It is loaded once at
// process start and written back after each full crawl pass. It exists purely
// to prevent redundant recrawling, never for ranking.
type Ledger struct {
	path string

	mu   sync.Mutex
	seen map[string]struct{}
}

// Open loads the ledger file at path. A missing file yields an empty ledger.
func Open(path string) (*Ledger, error) {
	l := &Ledger{
		path: path,
		seen: make(map[string]struct{}),
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		url := strings.TrimSpace(scanner.Text())
		if url == "" {
			continue
		}
		l.seen[url] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	return l, nil
}

// Diff returns the subset of urls not yet in the ledger, preserving input
// order and collapsing duplicates within the input itself.
func (l *Ledger) Diff(urls []string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var fresh []string
	inBatch := make(map[string]struct{}, len(urls))
	for _, url := range urls {
		if url == "" {
			continue
		}
		if _, ok := l.seen[url]; ok {
			continue
		}
		if _, ok := inBatch[url]; ok {
			continue
		}
		inBatch[url] = struct{}{}
		fresh = append(fresh, url)
	}
	return fresh
}

// Add unions urls into the in-memory set and returns how many were new.
func (l *Ledger) Add(urls []string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	added := 0
	for _, url := range urls {
		if url == "" {
			continue
		}
		if _, ok := l.seen[url]; !ok {
			l.seen[url] = struct{}{}
			added++
		}
	}
	return added
}

// Contains reports whether url was ever crawled.
func (l *Ledger) Contains(url string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[url]
	return ok
}

// URLs returns every ledger entry, sorted.
func (l *Ledger) URLs() []string {
	l.mu.Lock()
	urls := make([]string, 0, len(l.seen))
	for url := range l.seen {
		urls = append(urls, url)
	}
	l.mu.Unlock()
	sort.Strings(urls)
	return urls
}

// Len returns the number of URLs in the ledger.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Persist writes the full set back to disk, sorted for diff-friendliness.
// The write goes through a temp file and rename so a crash never truncates
// the previous ledger.
func (l *Ledger) Persist() error {
	l.mu.Lock()
	urls := make([]string, 0, len(l.seen))
	for url := range l.seen {
		urls = append(urls, url)
	}
	l.mu.Unlock()

	sort.Strings(urls)

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create ledger dir: %w", err)
		}
	}

	tmp := l.path + ".tmp"
	var sb strings.Builder
	for _, url := range urls {
		sb.WriteString(url)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(tmp, []byte(sb.String()), 0o600); err != nil {
		return fmt.Errorf("write ledger temp file: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace ledger file: %w", err)
	}
	return nil
}
