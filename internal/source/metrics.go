package source

import "sync"

type TailerMetrics struct {
	FilesDiscovered int
	FilesActive     int
	FilesFailed     int
	LinesPublished  int
	mu              sync.RWMutex
}

func (m *TailerMetrics) IncFilesDiscovered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesDiscovered++
}

func (m *TailerMetrics) IncFilesActive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesActive++
}

func (m *TailerMetrics) DecFilesActive() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesActive--
}

func (m *TailerMetrics) IncFilesFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesFailed++
}

func (m *TailerMetrics) IncLinesPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LinesPublished++
}

func (m *TailerMetrics) Stamp() TailerMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return TailerMetrics{
		FilesDiscovered: m.FilesDiscovered,
		FilesActive:     m.FilesActive,
		FilesFailed:     m.FilesFailed,
		LinesPublished:  m.LinesPublished,
	}
}
