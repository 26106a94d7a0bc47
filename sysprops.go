package sysprops

import (
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// PropertyIndex is a stable handle returned by Find and consumed by
// Serial/Update/Wait. It does not pin a borrow on any mapped area, so it
// may outlive the call that produced it.
type PropertyIndex struct {
	ContextIndex uint32
	Offset       uint32
}

// System is the public surface for reading and, with write capability,
// mutating properties. Open yields a read-only instance usable by any
// process; OpenForService yields a read-write instance for the privileged
// property service only.
type System struct {
	cs       *ContextSet
	writable bool
}

// Open opens the property area rooted at dir for read access. Any process
// may call this.
func Open(dir string) (*System, error) {
	cs, err := OpenContextSet(dir)
	if err != nil {
		return nil, err
	}
	return &System{cs: cs}, nil
}

// OpenForService opens (creating missing per-context areas) the property
// area rooted at dir with write capability, for the privileged service
// process only. Add/Update on a System obtained via Open always fail with
// Permission; the capability lives in the constructor, not in the type.
func OpenForService(dir string) (*System, error) {
	cs, err := OpenContextSetForService(dir)
	if err != nil {
		return nil, err
	}
	if err := cs.EnsureContextAreas(); err != nil {
		cs.Close()
		return nil, err
	}
	return &System{cs: cs, writable: true}, nil
}

// Close releases every mapped area held by the facade.
func (s *System) Close() error { return s.cs.Close() }

func (s *System) propertyRef(idx *PropertyIndex) (*Area, *PropertyRef, error) {
	area, err := s.cs.PropAreaWithIndex(idx.ContextIndex)
	if err != nil {
		return nil, nil, err
	}
	ref, err := area.PropertyInfo(idx.Offset)
	if err != nil {
		return nil, nil, err
	}
	return area, ref, nil
}

// readSeqlock reads the value under the record's serial. Readers never
// observe a torn value: the writer publishes the old value to the backup
// slot, sets dirty, writes the new inline value, then clears dirty while
// bumping the generation, so a stable serial on both sides of the copy
// means the bytes read were either all-old or all-new.
func (s *System) readSeqlock(area *Area, ref *PropertyRef) (string, error) {
	for {
		s0, err := ref.Serial()
		if err != nil {
			return "", err
		}
		var value string
		if serialDirty(s0) {
			value, err = area.DirtyBackupArea()
		} else {
			value, err = ref.InlineValue()
		}
		if err != nil {
			return "", err
		}
		s1, err := ref.Serial()
		if err != nil {
			return "", err
		}
		if s0 == s1 {
			return value, nil
		}
	}
}

// GetWithResult resolves name and reads its current value under the
// seqlock, propagating NotFound/Validation to the caller.
func (s *System) GetWithResult(name string) (string, error) {
	area, _, err := s.cs.PropAreaForName(name)
	if err != nil {
		return "", err
	}
	propOff, err := area.Find(name)
	if err != nil {
		return "", err
	}
	ref, err := area.PropertyInfo(propOff)
	if err != nil {
		return "", err
	}
	return s.readSeqlock(area, ref)
}

// Get returns the empty string when name is missing or on any error.
func (s *System) Get(name string) string {
	v, err := s.GetWithResult(name)
	if err != nil {
		return ""
	}
	return v
}

// GetWithDefault returns def when name is missing or on any error.
func (s *System) GetWithDefault(name, def string) string {
	v, err := s.GetWithResult(name)
	if err != nil {
		return def
	}
	return v
}

// GetAs parses name's value as T via strconv, returning the zero value of
// T when the property is absent, unparsable, or of the wrong type.
func GetAs[T Parsable](s *System, name string) T {
	var zero T
	v, ok := GetOrAs(s, name, zero)
	if !ok {
		return zero
	}
	return v
}

// GetOrAs parses name's value as T, returning (def, false) when the
// property is absent or fails to parse as T.
func GetOrAs[T Parsable](s *System, name string, def T) (T, bool) {
	raw, err := s.GetWithResult(name)
	if err != nil {
		return def, false
	}
	v, ok := parseAs[T](raw)
	if !ok {
		return def, false
	}
	return v, true
}

// Parsable constrains the types GetAs/GetOrAs may instantiate over.
type Parsable interface {
	~string | ~bool | ~int | ~int64 | ~uint | ~uint64 | ~float64
}

func parseAs[T Parsable](raw string) (T, bool) {
	var zero T
	switch any(zero).(type) {
	case string:
		return any(raw).(T), true
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return zero, false
		}
		return any(b).(T), true
	case int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return zero, false
		}
		return any(n).(T), true
	case int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return zero, false
		}
		return any(n).(T), true
	case uint:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return zero, false
		}
		return any(uint(n)).(T), true
	case uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return zero, false
		}
		return any(n).(T), true
	case float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return zero, false
		}
		return any(f).(T), true
	default:
		return zero, false
	}
}

// ContextForName resolves the security context string the Property Info
// Area assigns to name, or the empty string when nothing matches. The
// write-protocol server hands this to the external permission callback.
func (s *System) ContextForName(name string) string {
	ctx, _, err := s.cs.info.GetPropertyInfo(name)
	if err != nil {
		return ""
	}
	return ctx
}

// Find resolves name to a stable PropertyIndex, or NotFound.
func (s *System) Find(name string) (*PropertyIndex, error) {
	area, ctxIdx, err := s.cs.PropAreaForName(name)
	if err != nil {
		return nil, err
	}
	propOff, err := area.Find(name)
	if err != nil {
		return nil, err
	}
	return &PropertyIndex{ContextIndex: ctxIdx, Offset: propOff}, nil
}

// Serial returns idx's record serial, or 0 on any error. Serial is a
// best-effort witness for Wait, not a result-bearing read, so errors are
// not propagated.
func (s *System) Serial(idx *PropertyIndex) uint32 {
	_, ref, err := s.propertyRef(idx)
	if err != nil {
		return 0
	}
	v, err := ref.Serial()
	if err != nil {
		return 0
	}
	return v
}

// ContextSerial returns the area-wide change counter.
func (s *System) ContextSerial() uint32 {
	v, _ := s.cs.SerialPropArea().Serial()
	return v
}

// Add creates name with value (service only). Rejects values ≥92 bytes
// for non-`ro.` names, then bumps and wakes the area-wide serial.
func (s *System) Add(name, value string) error {
	if !s.writable {
		return Permissionf("system properties facade is read-only")
	}
	if len(value) >= PropValueMax && !strings.HasPrefix(name, "ro.") {
		return Validationf("value for %q exceeds %d bytes and is not a ro. property", name, PropValueMax)
	}
	area, _, err := s.cs.PropAreaForName(name)
	if err != nil {
		return err
	}
	if err := area.Add(name, value); err != nil {
		log().Errorw("add failed", "name", name, "error", err)
		return err
	}
	log().Infow("added property", "name", name)
	return s.bumpAndWakeAreaSerial()
}

// Update overwrites an existing, non-`ro.` property's value in place,
// keeping concurrent readers safe at every step: back up the old value,
// mark the record dirty, overwrite, then publish a clean serial and wake
// waiters.
func (s *System) Update(idx *PropertyIndex, value string) (bool, error) {
	if !s.writable {
		return false, Permissionf("system properties facade is read-only")
	}
	if len(value) >= PropValueMax {
		return false, Validationf("value of length %d exceeds inline capacity", len(value))
	}

	area, ref, err := s.propertyRef(idx)
	if err != nil {
		return false, err
	}
	name, err := ref.Name()
	if err != nil {
		return false, err
	}
	if strings.HasPrefix(name, "ro.") {
		log().Warnw("rejected update of read-only property", "name", name)
		return false, Validationf("property %q is read-only and cannot be updated", name)
	}

	area.writeMu.Lock()
	defer area.writeMu.Unlock()

	// 1. Load current serial, copy the current value string.
	serial, err := ref.Serial()
	if err != nil {
		return false, err
	}
	backupValue, err := ref.InlineValue()
	if err != nil {
		return false, err
	}

	// 2. Write that string into dirty_backup_area.
	if err := area.SetDirtyBackupArea(backupValue); err != nil {
		return false, err
	}

	// 3. Set bit 0 (dirty) on the record's serial.
	serial |= SerialDirtyMask
	if err := ref.setSerial(serial); err != nil {
		return false, err
	}

	// 4. Overwrite the inline value bytes; add NUL terminator.
	if err := ref.setInlineValue(value); err != nil {
		return false, err
	}

	// 5. Store new serial = (new_len << 24) | ((serial + 1) & 0xFFFFFF),
	// where serial is the already-dirtied value from step 3 — the +1 on
	// an odd value is what clears the dirty bit again while bumping the
	// generation.
	newSerial := (uint32(len(value)) << SerialLenShift) | ((serial + 1) & 0xFFFFFF)
	if err := ref.setSerial(newSerial); err != nil {
		return false, err
	}

	// 6. Futex-wake all waiters on the record's serial.
	serialPtr, err := ref.SerialPointer()
	if err == nil {
		futexWake(serialPtr, math.MaxInt32)
	}

	// 7. Bump the area-wide serial and futex-wake.
	if err := s.bumpAndWakeAreaSerial(); err != nil {
		return false, err
	}
	log().Debugw("updated property", "name", name, "serial", newSerial)
	return true, nil
}

// bumpAndWakeAreaSerial advances the area-wide change counter held in the
// dedicated properties_serial area — the one Wait(nil, ...) blocks on —
// and wakes every waiter.
func (s *System) bumpAndWakeAreaSerial() error {
	serialArea := s.cs.SerialPropArea()
	if _, err := serialArea.BumpSerial(); err != nil {
		return err
	}
	ptr, err := serialArea.SerialPointer()
	if err != nil {
		return err
	}
	return futexWake(ptr, math.MaxInt32)
}

// Wait blocks until idx's record serial (or, with idx nil, the area-wide
// serial) changes from its currently-observed value, or deadline elapses.
// Returns the new serial and true on change, or (0, false) on timeout or
// error. A nil deadline blocks indefinitely.
func (s *System) Wait(idx *PropertyIndex, deadline *time.Time) (uint32, bool) {
	if deadline != nil && !time.Now().Before(*deadline) {
		return 0, false
	}

	var ptr *uint32
	var err error
	if idx != nil {
		_, ref, rerr := s.propertyRef(idx)
		if rerr != nil {
			return 0, false
		}
		ptr, err = ref.SerialPointer()
	} else {
		ptr, err = s.cs.SerialPropArea().SerialPointer()
	}
	if err != nil {
		return 0, false
	}

	witness := atomic.LoadUint32(ptr)
	for {
		if werr := futexWait(ptr, witness, deadline); werr != nil {
			return 0, false
		}
		cur := atomic.LoadUint32(ptr)
		if cur != witness {
			return cur, true
		}
		if deadline != nil && !time.Now().Before(*deadline) {
			return 0, false
		}
	}
}

// WaitAny is Wait(nil, nil): woken by any successful write to this
// process's context set.
func (s *System) WaitAny() (uint32, bool) {
	return s.Wait(nil, nil)
}
