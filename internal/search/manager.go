package search

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ReloadStats tracks selector reload activity.
type ReloadStats struct {
	LastReloadTime time.Time `json:"lastReloadTime,omitempty"`
	ReloadCount    int64     `json:"reloadCount"`
	LastError      error     `json:"-"`
	LastErrorStr   string    `json:"lastError,omitempty"`
}

// SelectorManager serves the active selector set. It starts from the
// embedded defaults and can watch an external override file; reads are
// lock-free through atomic.Value.
type SelectorManager struct {
	embedded     *Selectors
	current      atomic.Value // *Selectors
	externalPath string
	watcher      *fsnotify.Watcher
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex // protects reloads and stats
	stats        ReloadStats
	closed       bool
}

// NewSelectorManager creates a manager. With an empty externalPath only the
// embedded selectors are used; with hotReload, file writes trigger reloads.
func NewSelectorManager(externalPath string, hotReload bool) *SelectorManager {
	m := &SelectorManager{
		embedded:     EmbeddedSelectors(),
		externalPath: externalPath,
		stopCh:       make(chan struct{}),
	}
	m.current.Store(m.embedded)

	if externalPath == "" {
		return m
	}

	if err := m.reload(); err != nil {
		log.Warn().Err(err).Str("path", externalPath).
			Msg("External selectors unusable, using embedded defaults")
	} else {
		log.Info().Str("path", externalPath).Msg("Loaded external search selectors")
	}

	if hotReload {
		if err := m.startWatcher(); err != nil {
			log.Warn().Err(err).Str("path", externalPath).
				Msg("Selector file watcher unavailable, hot-reload disabled")
		} else {
			log.Info().Str("path", externalPath).Msg("Hot-reload enabled for search selectors")
		}
	}
	return m
}

// Get returns the active selectors. Lock-free, safe for concurrent use.
func (m *SelectorManager) Get() *Selectors {
	return m.current.Load().(*Selectors)
}

// Reload re-reads the external file. On failure the previous selectors stay
// active.
func (m *SelectorManager) Reload() error {
	if m.externalPath == "" {
		return fmt.Errorf("no external selectors path configured")
	}
	return m.reload()
}

// Stats returns reload statistics.
func (m *SelectorManager) Stats() ReloadStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.stats
	if stats.LastError != nil {
		stats.LastErrorStr = stats.LastError.Error()
	}
	return stats
}

// Close stops the watcher. Safe to call more than once.
func (m *SelectorManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *SelectorManager) reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.externalPath)
	if err != nil {
		m.stats.LastError = err
		return fmt.Errorf("read selectors file: %w", err)
	}

	var s Selectors
	if err := yaml.Unmarshal(data, &s); err != nil {
		m.stats.LastError = err
		return fmt.Errorf("parse selectors file: %w", err)
	}

	merged := m.mergeWithEmbedded(&s)
	if err := merged.Validate(); err != nil {
		m.stats.LastError = err
		return err
	}

	m.current.Store(merged)
	m.stats.LastReloadTime = time.Now()
	m.stats.ReloadCount++
	m.stats.LastError = nil

	log.Info().Int64("reload_count", m.stats.ReloadCount).Msg("Search selectors hot-reloaded")
	return nil
}

// mergeWithEmbedded lets the external file override per field; embedded
// values fill the gaps.
func (m *SelectorManager) mergeWithEmbedded(external *Selectors) *Selectors {
	merged := *m.embedded

	if len(external.DuckDuckGo.FullResults) > 0 {
		merged.DuckDuckGo.FullResults = external.DuckDuckGo.FullResults
	}
	if len(external.DuckDuckGo.FullTitleLinks) > 0 {
		merged.DuckDuckGo.FullTitleLinks = external.DuckDuckGo.FullTitleLinks
	}
	if len(external.DuckDuckGo.Snippets) > 0 {
		merged.DuckDuckGo.Snippets = external.DuckDuckGo.Snippets
	}
	if len(external.Startpage.Results) > 0 {
		merged.Startpage.Results = external.Startpage.Results
	}
	if len(external.Startpage.TitleLinks) > 0 {
		merged.Startpage.TitleLinks = external.Startpage.TitleLinks
	}
	if len(external.Startpage.Snippets) > 0 {
		merged.Startpage.Snippets = external.Startpage.Snippets
	}
	if len(external.Bing.Layers) > 0 {
		merged.Bing.Layers = external.Bing.Layers
	}
	if len(external.Bing.Snippets) > 0 {
		merged.Bing.Snippets = external.Bing.Snippets
	}
	return &merged
}

func (m *SelectorManager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if err := watcher.Add(m.externalPath); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch selectors file: %w", err)
	}
	m.watcher = watcher

	m.wg.Add(1)
	go m.watchFile()
	return nil
}

func (m *SelectorManager) watchFile() {
	defer m.wg.Done()

	// Coalesce editor write bursts into one reload.
	const debounceDelay = 100 * time.Millisecond
	var debounceTimer *time.Timer
	var debouncing bool

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if debouncing {
				if !debounceTimer.Stop() {
					select {
					case <-debounceTimer.C:
					default:
					}
				}
				debounceTimer.Reset(debounceDelay)
			} else {
				debouncing = true
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					if err := m.Reload(); err != nil {
						log.Warn().Err(err).Str("path", m.externalPath).
							Msg("Selector hot-reload failed, keeping previous selectors")
					}
					debouncing = false
				})
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Selector file watcher error")

		case <-m.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}
