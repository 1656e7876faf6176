package storage

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"lanchat/models"
)

type groupRecord struct {
	name       string
	visibility models.Visibility
	password   string

	joined atomic.Bool
	unread atomic.Int64
}

func (r *groupRecord) snapshot() models.Group {
	return models.Group{
		Name:       r.name,
		Visibility: r.visibility,
		Password:   r.password,
		Joined:     r.joined.Load(),
		Unread:     int(r.unread.Load()),
	}
}

// GroupDirectory tracks discovered groups, the local joined sets, and the
// per-group catalog of files this peer has offered.
type GroupDirectory struct {
	groups        sync.Map // name -> *groupRecord
	joinedPublic  sync.Map // name -> struct{}
	joinedPrivate sync.Map // name -> password used to join
	files         sync.Map // group name -> *sync.Map (file name -> local path)
}

// NewGroupDirectory returns an empty directory.
func NewGroupDirectory() *GroupDirectory {
	return &GroupDirectory{}
}

// AddDiscovered records a group if its name is unknown. The first record for a
// name wins; later calls return the existing group with created=false.
func (d *GroupDirectory) AddDiscovered(name string, visibility models.Visibility, password string) (models.Group, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Group{}, false
	}
	if visibility != models.VisibilityPrivate {
		visibility = models.VisibilityPublic
		password = ""
	}

	record := &groupRecord{name: name, visibility: visibility, password: password}
	actual, loaded := d.groups.LoadOrStore(name, record)
	return actual.(*groupRecord).snapshot(), !loaded
}

// Get returns the group registered under name.
func (d *GroupDirectory) Get(name string) (models.Group, error) {
	record := d.record(name)
	if record == nil {
		return models.Group{}, ErrNotFound
	}
	return record.snapshot(), nil
}

// JoinPublic adds name to the joined public set.
func (d *GroupDirectory) JoinPublic(name string) error {
	record := d.record(name)
	if record == nil {
		return ErrNotFound
	}
	d.joinedPublic.Store(name, struct{}{})
	record.joined.Store(true)
	return nil
}

// JoinPrivate adds name to the joined private set along with the password used.
func (d *GroupDirectory) JoinPrivate(name, password string) error {
	record := d.record(name)
	if record == nil {
		return ErrNotFound
	}
	if password == "" {
		return errors.New("storage: private group password is required")
	}
	d.joinedPrivate.Store(name, password)
	record.joined.Store(true)
	return nil
}

// Leave clears local joined state. The group record itself is retained.
func (d *GroupDirectory) Leave(name string) bool {
	_, wasPublic := d.joinedPublic.LoadAndDelete(name)
	_, wasPrivate := d.joinedPrivate.LoadAndDelete(name)
	if record := d.record(name); record != nil {
		record.joined.Store(false)
	}
	return wasPublic || wasPrivate
}

// IsJoined reports whether the local peer is a member of name.
func (d *GroupDirectory) IsJoined(name string) bool {
	if _, ok := d.joinedPublic.Load(name); ok {
		return true
	}
	_, ok := d.joinedPrivate.Load(name)
	return ok
}

// JoinedPublic returns the sorted names of joined public groups.
func (d *GroupDirectory) JoinedPublic() []string {
	return sortedKeys(&d.joinedPublic)
}

// JoinedPrivate returns the sorted names of joined private groups.
func (d *GroupDirectory) JoinedPrivate() []string {
	return sortedKeys(&d.joinedPrivate)
}

// Joined returns every joined group name, sorted.
func (d *GroupDirectory) Joined() []string {
	out := append(d.JoinedPublic(), d.JoinedPrivate()...)
	sort.Strings(out)
	return out
}

// List returns a name-ordered snapshot of every known group.
func (d *GroupDirectory) List() []models.Group {
	out := make([]models.Group, 0)
	d.groups.Range(func(_, value any) bool {
		out = append(out, value.(*groupRecord).snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// IncrementUnread bumps the unread counter and returns the new value.
func (d *GroupDirectory) IncrementUnread(name string) int {
	record := d.record(name)
	if record == nil {
		return 0
	}
	return int(record.unread.Add(1))
}

// ResetUnread zeroes the unread counter.
func (d *GroupDirectory) ResetUnread(name string) error {
	record := d.record(name)
	if record == nil {
		return ErrNotFound
	}
	record.unread.Store(0)
	return nil
}

// AddFile registers a locally offered file so pull requests can be answered.
func (d *GroupDirectory) AddFile(group, fileName, path string) {
	catalog, _ := d.files.LoadOrStore(group, &sync.Map{})
	catalog.(*sync.Map).Store(fileName, path)
}

// FilePath resolves a catalog entry.
func (d *GroupDirectory) FilePath(group, fileName string) (string, error) {
	catalog, ok := d.files.Load(group)
	if !ok {
		return "", ErrNotFound
	}
	path, ok := catalog.(*sync.Map).Load(fileName)
	if !ok {
		return "", ErrNotFound
	}
	return path.(string), nil
}

// Remove forgets one group together with its membership and catalog.
func (d *GroupDirectory) Remove(name string) bool {
	_, existed := d.groups.LoadAndDelete(name)
	d.joinedPublic.Delete(name)
	d.joinedPrivate.Delete(name)
	d.files.Delete(name)
	return existed
}

// Clear forgets every group, membership, and catalog entry.
func (d *GroupDirectory) Clear() {
	d.groups.Clear()
	d.joinedPublic.Clear()
	d.joinedPrivate.Clear()
	d.files.Clear()
}

func (d *GroupDirectory) record(name string) *groupRecord {
	value, ok := d.groups.Load(name)
	if !ok {
		return nil
	}
	return value.(*groupRecord)
}

func sortedKeys(m *sync.Map) []string {
	out := make([]string, 0)
	m.Range(func(key, _ any) bool {
		out = append(out, key.(string))
		return true
	})
	sort.Strings(out)
	return out
}
