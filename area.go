package sysprops

import (
	"os"
	"strings"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// BackupAreaOffset and backupAreaSize locate the well-known "dirty backup"
// slot immediately after the sentinel root node.
const (
	rootNodeSize     = 24 // align4(NodeNameIdx + 0 + 1)
	BackupAreaOffset = rootNodeSize
)

var backupAreaSize = align4(PropValueMax + 1)

// Area is a single Property Area backing file: a 128 KiB mmap'd trie of
// nodes and packed property records, shared with every process that maps
// the same file.
type Area struct {
	path     string
	file     *os.File
	data     MMap
	writable bool

	// writeMu serializes Add/Update calls against this area's trie and
	// bump allocator. Service goroutines handle connections concurrently,
	// but writes within one area take this lock.
	writeMu sync.Mutex
}

// CreateArea creates a brand-new 128 KiB Property Area at path, owned
// read-write by the caller: mode 0444, O_EXCL, O_NOFOLLOW, truncated to
// AreaSize, mapped shared.
func CreateArea(path string) (*Area, error) {
	flags := os.O_RDWR | os.O_CREATE | os.O_EXCL | unix.O_NOFOLLOW
	file, err := os.OpenFile(path, flags, 0444)
	if err != nil {
		log().Errorw("failed to create property area", "path", path, "error", err)
		return nil, IOf(err, "create area %s", path)
	}
	log().Infow("created property area", "path", path)
	if err := file.Truncate(AreaSize); err != nil {
		file.Close()
		return nil, IOf(err, "truncate area %s", path)
	}

	data, err := Map(file, RDWR, AreaSize)
	if err != nil {
		file.Close()
		return nil, err
	}

	a := &Area{path: path, file: file, data: data, writable: true}
	if err := a.initHeaderAndRoot(); err != nil {
		data.Unmap()
		file.Close()
		return nil, err
	}
	return a, nil
}

func (a *Area) initHeaderAndRoot() error {
	copy(a.data[:HeaderSize], serializeHeader(0, 0))
	// Root node and backup slot are already zero from Truncate; only
	// bytes_used needs to be advanced past them.
	return a.setBytesUsed(BackupAreaOffset + backupAreaSize)
}

// OpenAreaReadOnly opens an existing Property Area for read-only access,
// validating size, permission bits, and header before trusting it.
func OpenAreaReadOnly(path string) (*Area, error) {
	return openArea(path, false)
}

// OpenAreaReadWrite reopens an existing Property Area for the service
// (used when the service restarts against files it previously created).
func OpenAreaReadWrite(path string) (*Area, error) {
	return openArea(path, true)
}

func openArea(path string, writable bool) (*Area, error) {
	flags := unix.O_NOFOLLOW
	if writable {
		flags |= os.O_RDWR
	} else {
		flags |= os.O_RDONLY
	}
	file, err := os.OpenFile(path, flags, 0)
	if err != nil {
		log().Debugw("failed to open property area", "path", path, "writable", writable, "error", err)
		return nil, IOf(err, "open area %s", path)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, IOf(err, "stat area %s", path)
	}
	if info.Size() != AreaSize {
		file.Close()
		return nil, Validationf("area %s has size %d, want %d", path, info.Size(), AreaSize)
	}
	if err := checkBackingFilePermissions(path, info); err != nil {
		file.Close()
		return nil, err
	}

	prot := RDONLY
	if writable {
		prot = RDWR
	}
	data, err := Map(file, prot, AreaSize)
	if err != nil {
		file.Close()
		return nil, err
	}

	a := &Area{path: path, file: file, data: data, writable: writable}
	if err := a.validateHeader(); err != nil {
		data.Unmap()
		file.Close()
		return nil, err
	}
	return a, nil
}

// checkBackingFilePermissions rejects backing files any other user could
// have tampered with: group/other write bits are always fatal; ownership
// must be root or the current effective uid unless the process opted into
// relaxed debug mode via Init(WithDebug(true)).
func checkBackingFilePermissions(path string, info os.FileInfo) error {
	if info.Mode().Perm()&0o022 != 0 {
		return Permissionf("backing file %s is group/other writable", path)
	}
	if current().Debug {
		return nil
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		if st.Uid != 0 && st.Uid != uint32(os.Geteuid()) {
			return Permissionf("backing file %s owned by uid %d", path, st.Uid)
		}
	}
	return nil
}

// TagContext labels the backing file with an SELinux context, best-effort:
// hosts without SELinux refuse the xattr write and the area stays untagged.
func (a *Area) TagContext(context string) {
	if err := setFileContext(a.file, context); err != nil {
		log().Debugw("could not tag area with SELinux context", "path", a.path, "context", context, "error", err)
	}
}

func (a *Area) validateHeader() error {
	magic, err := loadUint32At(a.data, HdrMagicIdx)
	if err != nil {
		return err
	}
	version, err := loadUint32At(a.data, HdrVersionIdx)
	if err != nil {
		return err
	}
	if magic != PropAreaMagic || version != PropAreaVersion {
		return Validationf("area %s: bad magic/version %#x/%#x", a.path, magic, version)
	}
	return nil
}

// Close unmaps and closes the backing file.
func (a *Area) Close() error {
	if err := a.data.Unmap(); err != nil {
		return err
	}
	return a.file.Close()
}

func (a *Area) abs(rel uint32) uint32 { return HeaderSize + rel }

func (a *Area) bytesUsed() (uint32, error)  { return loadUint32At(a.data, HdrBytesUsedIdx) }
func (a *Area) setBytesUsed(v uint32) error { return storeUint32At(a.data, HdrBytesUsedIdx, v) }

// Serial returns the area-wide change counter.
func (a *Area) Serial() (uint32, error) { return loadUint32At(a.data, HdrSerialIdx) }

// BumpSerial increments the area-wide serial by one and returns the new
// value, used by the facade after every Add/Update to wake wait(None, ...).
func (a *Area) BumpSerial() (uint32, error) {
	for {
		cur, err := a.Serial()
		if err != nil {
			return 0, err
		}
		ok, err := casUint32At(a.data, HdrSerialIdx, cur, cur+1)
		if err != nil {
			return 0, err
		}
		if ok {
			return cur + 1, nil
		}
	}
}

// SerialPointer exposes the area-wide serial as a raw pointer for futex
// wait/wake.
func (a *Area) SerialPointer() (*uint32, error) {
	return serialPointerAt(a.data, HdrSerialIdx)
}

func serialPointerAt(data MMap, offset uint32) (ptr *uint32, err error) {
	defer func() {
		if r := recover(); r != nil {
			ptr = nil
			err = Validationf("offset %d out of bounds: %v", offset, r)
		}
	}()
	return (*uint32)(unsafe.Pointer(&data[offset])), nil
}

// allocate bump-allocates size bytes (4-byte aligned) within the data
// region, returning the data-relative offset. Exhaustion fails with
// KindFileSize.
func (a *Area) allocate(size uint32) (uint32, error) {
	size = align4(size)
	for {
		used, err := a.bytesUsed()
		if err != nil {
			return 0, err
		}
		next := used + size
		if next > DataSize {
			log().Warnw("property area exhausted", "path", a.path, "need", size, "used", used, "capacity", DataSize)
			return 0, FileSizef("area %s exhausted: need %d, have %d/%d", a.path, size, used, DataSize)
		}
		ok, err := casUint32At(a.data, HdrBytesUsedIdx, used, next)
		if err != nil {
			return 0, err
		}
		if ok {
			return used, nil
		}
	}
}

// ---- Trie node field access (offsets relative to the data region) ----

func (a *Area) nodeNameLen(off uint32) (uint32, error) {
	return loadUint32At(a.data, a.abs(off+NodeNameLenIdx))
}

func (a *Area) nodeProp(off uint32) (uint32, error) {
	return loadUint32At(a.data, a.abs(off+NodePropIdx))
}

func (a *Area) setNodeProp(off, val uint32) error {
	return storeUint32At(a.data, a.abs(off+NodePropIdx), val)
}

func (a *Area) nodeName(off uint32) (string, error) {
	n, err := a.nodeNameLen(off)
	if err != nil {
		return "", err
	}
	start := a.abs(off + NodeNameIdx)
	if int(start+n) > len(a.data) {
		return "", Validationf("node name at %d exceeds mapping", off)
	}
	return string(a.data[start : start+n]), nil
}

// newNode bump-allocates and initializes a trie node for name. left/right/
// children/prop all read as zero because the bump allocator only hands out
// fresh (Truncate-zeroed) bytes.
func (a *Area) newNode(name string) (uint32, error) {
	size := align4(uint32(NodeNameIdx + len(name) + 1))
	off, err := a.allocate(size)
	if err != nil {
		return 0, err
	}
	nameStart := a.abs(off + NodeNameIdx)
	copy(a.data[nameStart:], name)
	a.data[int(nameStart)+len(name)] = 0
	if err := storeUint32At(a.data, a.abs(off+NodeNameLenIdx), uint32(len(name))); err != nil {
		return 0, err
	}
	return off, nil
}

// findOrCreateInBST walks the binary search tree rooted at the pointer
// stored at bstRootAbs (a node's `children` field, or the sentinel root's),
// comparing siblings with cmpPropName. When create is false and the
// segment is absent, errNodeNotFound is returned.
func (a *Area) findOrCreateInBST(bstRootAbs uint32, segment string, create bool) (uint32, error) {
	rootOff, err := loadUint32At(a.data, bstRootAbs)
	if err != nil {
		return 0, err
	}
	if rootOff == 0 {
		if !create {
			return 0, errNodeNotFound
		}
		newOff, err := a.newNode(segment)
		if err != nil {
			return 0, err
		}
		if err := storeUint32At(a.data, bstRootAbs, newOff); err != nil {
			return 0, err
		}
		return newOff, nil
	}

	cur := rootOff
	for {
		name, err := a.nodeName(cur)
		if err != nil {
			return 0, err
		}
		cmp := cmpPropName(segment, name)
		if cmp == 0 {
			return cur, nil
		}
		fieldRel := uint32(NodeLeftIdx)
		if cmp > 0 {
			fieldRel = NodeRightIdx
		}
		fieldAbs := a.abs(cur + fieldRel)
		next, err := loadUint32At(a.data, fieldAbs)
		if err != nil {
			return 0, err
		}
		if next == 0 {
			if !create {
				return 0, errNodeNotFound
			}
			newOff, err := a.newNode(segment)
			if err != nil {
				return 0, err
			}
			if err := storeUint32At(a.data, fieldAbs, newOff); err != nil {
				return 0, err
			}
			return newOff, nil
		}
		cur = next
	}
}

func splitSegments(name string) ([]string, error) {
	if name == "" {
		return nil, Parsef("empty property name")
	}
	segs := strings.Split(name, ".")
	for _, s := range segs {
		if s == "" {
			return nil, Parsef("empty segment in name %q", name)
		}
	}
	return segs, nil
}

// Find descends the trie one dot-separated segment at a time, returning
// the data-relative offset of the property record for name.
func (a *Area) Find(name string) (uint32, error) {
	segs, err := splitSegments(name)
	if err != nil {
		return 0, err
	}
	cur := uint32(RootOffset)
	for _, seg := range segs {
		childrenAbs := a.abs(cur + NodeChildrenIdx)
		next, err := a.findOrCreateInBST(childrenAbs, seg, false)
		if err != nil {
			if err == errNodeNotFound {
				return 0, NotFoundf("property %q not found", name)
			}
			return 0, err
		}
		cur = next
	}
	propOff, err := a.nodeProp(cur)
	if err != nil {
		return 0, err
	}
	if propOff == 0 {
		return 0, NotFoundf("property %q not found", name)
	}
	return propOff, nil
}

// Add creates name (walking/creating trie nodes as needed) with the given
// value, service-only. Duplicate insertion is a no-op.
func (a *Area) Add(name, value string) error {
	if !a.writable {
		return Permissionf("area %s is read-only", a.path)
	}
	segs, err := splitSegments(name)
	if err != nil {
		return err
	}
	// The inline slot holds the value plus its NUL terminator, so 92 bytes
	// is already too big to store inline.
	isLong := len(value) >= PropValueMax
	if isLong && !strings.HasPrefix(name, "ro.") {
		return Validationf("value for %q exceeds inline capacity and is not a ro. property", name)
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	cur := uint32(RootOffset)
	for _, seg := range segs {
		childrenAbs := a.abs(cur + NodeChildrenIdx)
		next, err := a.findOrCreateInBST(childrenAbs, seg, true)
		if err != nil {
			return err
		}
		cur = next
	}

	existing, err := a.nodeProp(cur)
	if err != nil {
		return err
	}
	if existing != 0 {
		return nil
	}

	recOff, err := a.newPropertyRecord(name, value, isLong)
	if err != nil {
		return err
	}
	return a.setNodeProp(cur, recOff)
}

// newPropertyRecord bump-allocates and fully initializes a property
// record, publishing its serial last.
func (a *Area) newPropertyRecord(name, value string, isLong bool) (uint32, error) {
	recSize := align4(uint32(PropFixedSize + len(name) + 1))
	recOff, err := a.allocate(recSize)
	if err != nil {
		return 0, err
	}

	var serial uint32
	if isLong {
		valSize := align4(uint32(len(value) + 1))
		valOff, err := a.allocate(valSize)
		if err != nil {
			return 0, err
		}
		valAbs := a.abs(valOff)
		copy(a.data[valAbs:], value)
		a.data[int(valAbs)+len(value)] = 0
		delta := valOff - recOff
		if err := storeUint32At(a.data, a.abs(recOff+PropLongValIdx), delta); err != nil {
			return 0, err
		}
		serial = SerialLongFlag
	} else {
		valAbs := a.abs(recOff + PropValueIdx)
		copy(a.data[valAbs:], value)
		a.data[int(valAbs)+len(value)] = 0
		serial = uint32(len(value)) << SerialLenShift
	}

	nameAbs := a.abs(recOff + PropNameIdx)
	copy(a.data[nameAbs:], name)
	a.data[int(nameAbs)+len(name)] = 0

	if err := storeUint32At(a.data, a.abs(recOff+PropSerialIdx), serial); err != nil {
		return 0, err
	}
	return recOff, nil
}

// DirtyBackupArea reads the well-known backup slot used during updates.
func (a *Area) DirtyBackupArea() (string, error) {
	return readCString(a.data, a.abs(BackupAreaOffset))
}

// SetDirtyBackupArea writes value into the well-known backup slot,
// service-only.
func (a *Area) SetDirtyBackupArea(value string) error {
	if !a.writable {
		return Permissionf("area %s is read-only", a.path)
	}
	if uint32(len(value)) >= backupAreaSize {
		return Validationf("backup value of length %d exceeds backup slot", len(value))
	}
	_, err := writeCString(a.data, a.abs(BackupAreaOffset), value)
	return err
}

// PropertyRef is a stable, typed handle to a property record within an
// Area, returned by PropertyInfo and consumed by the facade's seqlock
// read loop and update procedure.
type PropertyRef struct {
	area   *Area
	Offset uint32
}

// PropertyInfo resolves a data-relative property record offset (as
// returned by Find) into a PropertyRef, bounds-checking the offset.
func (a *Area) PropertyInfo(offset uint32) (*PropertyRef, error) {
	if int(a.abs(offset+PropFixedSize)) > len(a.data) {
		return nil, Validationf("property offset %d out of bounds", offset)
	}
	return &PropertyRef{area: a, Offset: offset}, nil
}

func (p *PropertyRef) SerialPointer() (*uint32, error) {
	return serialPointerAt(p.area.data, p.area.abs(p.Offset+PropSerialIdx))
}

func (p *PropertyRef) Serial() (uint32, error) {
	return loadUint32At(p.area.data, p.area.abs(p.Offset+PropSerialIdx))
}

func (p *PropertyRef) setSerial(v uint32) error {
	return storeUint32At(p.area.data, p.area.abs(p.Offset+PropSerialIdx), v)
}

func (p *PropertyRef) Name() (string, error) {
	return readCString(p.area.data, p.area.abs(p.Offset+PropNameIdx))
}

func (p *PropertyRef) IsLong() (bool, error) {
	serial, err := p.Serial()
	if err != nil {
		return false, err
	}
	return serialLong(serial), nil
}

// InlineValue reads the value directly from the record's own slot,
// resolving the long-value relative offset when the long flag is set.
// Callers needing the seqlock-safe read should use the facade's Get, not
// this directly.
func (p *PropertyRef) InlineValue() (string, error) {
	long, err := p.IsLong()
	if err != nil {
		return "", err
	}
	if !long {
		return readCString(p.area.data, p.area.abs(p.Offset+PropValueIdx))
	}
	delta, err := loadUint32At(p.area.data, p.area.abs(p.Offset+PropLongValIdx))
	if err != nil {
		return "", err
	}
	return readCString(p.area.data, p.area.abs(p.Offset+delta))
}

// setInlineValue overwrites the record's inline value slot in place
// (short values only — long values are immutable, written once at Add
// time).
func (p *PropertyRef) setInlineValue(value string) error {
	if len(value) >= PropValueMax {
		return Validationf("value of length %d exceeds inline capacity", len(value))
	}
	valAbs := p.area.abs(p.Offset + PropValueIdx)
	copy(p.area.data[valAbs:], value)
	p.area.data[int(valAbs)+len(value)] = 0
	return nil
}
