package pairs

import (
	"sync"

	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hic/contacts"
)

// ToContactMatrix counts the visible pairs per fragment pair.
func (s *Store) ToContactMatrix() (*contacts.Matrix, error) {
	if err := s.checkRegions(); err != nil {
		return nil, err
	}
	var (
		mu   sync.Mutex
		m    = contacts.New(s.idx)
		keys = s.keys
	)
	err := traverse.Each(len(keys), func(i int) error {
		pm := contacts.New(s.idx)
		edges := s.parts[keys[i]].edges
		for j := range edges {
			if edges[j].Mask == 0 {
				pm.Add(int(edges[j].Source), int(edges[j].Sink), 1)
			}
		}
		mu.Lock()
		m.Merge(pm)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
