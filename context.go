package sysprops

import (
	"path/filepath"
	"sync"
)

// ContextNode owns one Property Area's backing file path and lazily holds
// the mapped Area once it is first needed: double-checked initialization
// behind a per-node read/write lock, never a global lock across the whole
// set.
type ContextNode struct {
	Context  string
	path     string
	writable bool

	mu   sync.RWMutex
	area *Area // nil until first open
}

func newContextNode(context, path string, writable bool) *ContextNode {
	return &ContextNode{Context: context, path: path, writable: writable}
}

// Area returns the mapped Property Area for this context, opening it on
// first use. Concurrent callers race to acquire the write lock, but only
// one performs the actual open/mmap; the rest observe it via the lock.
func (n *ContextNode) Area() (*Area, error) {
	n.mu.RLock()
	if n.area != nil {
		a := n.area
		n.mu.RUnlock()
		return a, nil
	}
	n.mu.RUnlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.area != nil {
		return n.area, nil
	}

	var (
		a   *Area
		err error
	)
	if n.writable {
		a, err = OpenAreaReadWrite(n.path)
	} else {
		a, err = OpenAreaReadOnly(n.path)
	}
	if err != nil {
		log().Errorw("failed to lazily open context area", "context", n.Context, "path", n.path, "error", err)
		return nil, err
	}
	log().Debugw("lazily opened context area", "context", n.Context, "path", n.path, "writable", n.writable)
	n.area = a
	return a, nil
}

// Close unmaps the area if it was ever opened.
func (n *ContextNode) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.area == nil {
		return nil
	}
	err := n.area.Close()
	n.area = nil
	return err
}

// ContextSet owns the Property Info Area plus one ContextNode per context
// string it names, and the dedicated Property Area holding the area-wide
// change counter.
type ContextSet struct {
	info     *InfoArea
	dir      string
	writable bool

	nodesMu sync.RWMutex
	nodes   map[uint32]*ContextNode // by context index

	serial *Area
}

// OpenContextSet opens an existing property_info and properties_serial
// file read-only, per-context areas stay unopened until first use.
func OpenContextSet(dir string) (*ContextSet, error) {
	return openContextSet(dir, false)
}

// OpenContextSetForService opens (and, for areas that do not yet exist,
// creates) the full set read-write, for use by the privileged service
// process.
func OpenContextSetForService(dir string) (*ContextSet, error) {
	return openContextSet(dir, true)
}

func openContextSet(dir string, writable bool) (*ContextSet, error) {
	info, err := OpenInfoArea(filepath.Join(dir, InfoAreaFileName))
	if err != nil {
		return nil, err
	}

	serialPath := filepath.Join(dir, SerialAreaFile)
	var serial *Area
	if writable {
		serial, err = OpenAreaReadWrite(serialPath)
		if KindOf(err) == KindIO {
			serial, err = CreateArea(serialPath)
			if err == nil {
				serial.TagContext(SerialAreaContext)
			}
		}
	} else {
		serial, err = OpenAreaReadOnly(serialPath)
	}
	if err != nil {
		info.Close()
		return nil, err
	}

	return &ContextSet{
		info:     info,
		dir:      dir,
		writable: writable,
		nodes:    make(map[uint32]*ContextNode),
		serial:   serial,
	}, nil
}

// Close unmaps the info area, the serial area, and every context node
// that was opened.
func (cs *ContextSet) Close() error {
	cs.nodesMu.Lock()
	for _, n := range cs.nodes {
		n.Close()
	}
	cs.nodesMu.Unlock()
	if err := cs.serial.Close(); err != nil {
		return err
	}
	return cs.info.Close()
}

// SerialPropArea is the area-wide change counter used by wait(None, ...).
func (cs *ContextSet) SerialPropArea() *Area { return cs.serial }

// PropAreaForName resolves name to its backing Area and context index via
// the Property Info Area, lazily opening the Context Node on first use.
func (cs *ContextSet) PropAreaForName(name string) (*Area, uint32, error) {
	ctxIdx, _ := cs.info.FindIndexes(name)
	if ctxIdx == NoIndex {
		return nil, 0, NotFoundf("no context resolved for %q", name)
	}
	area, err := cs.PropAreaWithIndex(ctxIdx)
	if err != nil {
		return nil, 0, err
	}
	return area, ctxIdx, nil
}

// PropAreaWithIndex returns the Area for a context index already known to
// a caller holding a PropertyIndex from a prior Find.
func (cs *ContextSet) PropAreaWithIndex(ctxIdx uint32) (*Area, error) {
	node, err := cs.contextNode(ctxIdx)
	if err != nil {
		return nil, err
	}
	return node.Area()
}

func (cs *ContextSet) contextNode(ctxIdx uint32) (*ContextNode, error) {
	cs.nodesMu.RLock()
	n, ok := cs.nodes[ctxIdx]
	cs.nodesMu.RUnlock()
	if ok {
		return n, nil
	}

	ctxName, err := cs.info.ContextString(ctxIdx)
	if err != nil {
		return nil, err
	}

	cs.nodesMu.Lock()
	defer cs.nodesMu.Unlock()
	if n, ok := cs.nodes[ctxIdx]; ok {
		return n, nil
	}
	n = newContextNode(ctxName, filepath.Join(cs.dir, ctxName), cs.writable)
	cs.nodes[ctxIdx] = n
	return n, nil
}

// EnsureContextAreas creates (if missing) every per-context backing file
// named in the Property Info Area's context table. Service-only, called
// once at startup.
func (cs *ContextSet) EnsureContextAreas() error {
	if !cs.writable {
		return Permissionf("context set at %s is read-only", cs.dir)
	}
	count := cs.info.numContexts()
	for i := uint32(0); i < count; i++ {
		ctxName, err := cs.info.ContextString(i)
		if err != nil {
			return err
		}
		path := filepath.Join(cs.dir, ctxName)
		node, err := cs.contextNode(i)
		if err != nil {
			return err
		}
		if _, err := node.Area(); err != nil {
			if KindOf(err) != KindIO {
				return err
			}
			a, err := CreateArea(path)
			if err != nil {
				return err
			}
			a.TagContext(ctxName)
			node.mu.Lock()
			node.area = a
			node.mu.Unlock()
		}
	}
	return nil
}
