package services

import (
	"github.com/NimbleStorage/nimble-sap-hana-agent/internal/domain"
	"github.com/NimbleStorage/nimble-sap-hana-agent/pkg/cmap"
)

// CorrelationStore is the in-memory ports.CorrelationStore keyed by snapshot
// name.
type CorrelationStore struct {
	windows *cmap.Map[domain.FreezeWindow]
}

func NewCorrelationStore() *CorrelationStore {
	return &CorrelationStore{windows: cmap.New[domain.FreezeWindow]()}
}

func (s *CorrelationStore) Put(window domain.FreezeWindow) {
	s.windows.Set(window.SnapshotName, window)
}

func (s *CorrelationStore) Get(snapshotName string) (domain.FreezeWindow, bool) {
	return s.windows.Get(snapshotName)
}

func (s *CorrelationStore) Delete(snapshotName string) bool {
	return s.windows.Delete(snapshotName)
}

func (s *CorrelationStore) List() []domain.FreezeWindow {
	return s.windows.Values()
}

func (s *CorrelationStore) Len() int {
	return s.windows.Count()
}
