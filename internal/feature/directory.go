// internal/feature/directory.go
package feature

import "sync"

// Directory indexes features by kind (registration order) and by circuit.
// It is filled while boards are scanned and read concurrently afterwards.
type Directory struct {
	mu        sync.RWMutex
	all       []Feature
	byKind    map[Kind][]Feature
	byCircuit map[string]Feature
}

func NewDirectory() *Directory {
	return &Directory{
		byKind:    make(map[Kind][]Feature),
		byCircuit: make(map[string]Feature),
	}
}

// Register appends f. Circuit uniqueness is the caller's responsibility.
func (d *Directory) Register(f Feature) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.all = append(d.all, f)
	d.byKind[f.Kind()] = append(d.byKind[f.Kind()], f)
	d.byCircuit[f.Circuit()] = f
}

// ByKind returns the features of each kind in registration order,
// concatenated in the order the kinds are given.
func (d *Directory) ByKind(kinds ...Kind) []Feature {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Feature
	for _, k := range kinds {
		out = append(out, d.byKind[k]...)
	}
	return out
}

func (d *Directory) ByCircuit(circuit string) (Feature, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	f, ok := d.byCircuit[circuit]
	return f, ok
}

// All returns every feature in registration order.
func (d *Directory) All() []Feature {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Feature, len(d.all))
	copy(out, d.all)
	return out
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.all)
}
