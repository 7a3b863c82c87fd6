// Package registry owns the live device set: constructing a Driver for
// each Descriptor, handing out opaque handles, and replacing the whole
// set atomically on reload. It is read-mostly: List and
// Lookup take a read lock and return copies; Reload builds the new set
// outside the lock and takes the write lock only for the brief map swap,
// while Register holds the write lock for the whole call, driver
// construction included.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	infraerrors "github.com/nestwatch/sentryd/infrastructure/errors"
	"github.com/nestwatch/sentryd/internal/driver"
	"github.com/nestwatch/sentryd/internal/model"
	"github.com/nestwatch/sentryd/internal/secrets"
)

// Handle is an opaque reference to a registered device, distinct from its
// configured Descriptor.ID so callers can't forge one by guessing the id.
type Handle uuid.UUID

func (h Handle) String() string { return uuid.UUID(h).String() }

// entry is the registry's private record for one device. runtime is
// mutated by the device's scheduler task and read by everyone else
// through Snapshot, guarded by mu.
type entry struct {
	handle     Handle
	descriptor model.Descriptor
	driver     driver.Driver

	mu      sync.Mutex
	runtime model.RuntimeState
}

// Diff describes what a Reload changed, by device ID.
type Diff struct {
	Added    []string
	Removed  []string
	Replaced []string
}

func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Replaced) == 0
}

// Registry is the live, swappable device set.
type Registry struct {
	sink *secrets.Sink

	mu      sync.RWMutex
	entries map[Handle]*entry
	byID    map[string]Handle
}

// New builds an empty Registry. sink resolves each descriptor's
// CredentialRef into the value handed to its driver constructor.
func New(sink *secrets.Sink) *Registry {
	return &Registry{
		sink:    sink,
		entries: make(map[Handle]*entry),
		byID:    make(map[string]Handle),
	}
}

// resolveCredential returns the empty string for descriptors with no
// reference, in mock mode, or already marked disabled — those never talk
// to a real backend so there is nothing to authenticate.
func (r *Registry) resolveCredential(ctx context.Context, desc model.Descriptor) (string, error) {
	if desc.CredentialRef == "" || desc.Mock || desc.Disabled {
		return "", nil
	}
	return r.sink.Resolve(ctx, desc.CredentialRef)
}

func (r *Registry) build(ctx context.Context, desc model.Descriptor) (*entry, error) {
	cred, err := r.resolveCredential(ctx, desc)
	if err != nil {
		desc.Disabled = true
		desc.Driver = "disabled"
		desc.DisabledReason = fmt.Sprintf("credential %q unresolved: %v", desc.CredentialRef, err)
	}

	d, err := driver.New(driver.Config{Descriptor: desc, Credential: cred})
	if err != nil {
		return nil, err
	}

	return &entry{
		handle:     Handle(uuid.New()),
		descriptor: desc,
		driver:     d,
		runtime:    model.RuntimeState{Phase: model.PhaseOK},
	}, nil
}

// Register constructs a Driver for desc and adds it to the registry.
// Fails with DuplicateID if desc.ID is already registered, or whatever
// error the driver factory returns (UnknownDriver, or a vendor
// constructor's own BadConfig-shaped error).
func (r *Registry) Register(ctx context.Context, desc model.Descriptor) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[desc.ID]; exists {
		return Handle{}, infraerrors.DuplicateID(desc.ID)
	}

	e, err := r.build(ctx, desc)
	if err != nil {
		return Handle{}, err
	}

	r.entries[e.handle] = e
	r.byID[desc.ID] = e.handle
	return e.handle, nil
}

// List returns every registered device's descriptor paired with a
// snapshot of its current runtime state, in no particular order.
func (r *Registry) List() []model.DeviceView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	views := make([]model.DeviceView, 0, len(r.entries))
	for _, e := range r.entries {
		e.mu.Lock()
		rt := e.runtime.Snapshot()
		e.mu.Unlock()
		views = append(views, model.DeviceView{Descriptor: e.descriptor, Runtime: rt})
	}
	return views
}

// Lookup finds a device by its configured ID.
func (r *Registry) Lookup(id string) (Handle, model.DeviceView, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.byID[id]
	if !ok {
		return Handle{}, model.DeviceView{}, infraerrors.NotFound("device", id)
	}
	e := r.entries[h]
	e.mu.Lock()
	rt := e.runtime.Snapshot()
	e.mu.Unlock()
	return h, model.DeviceView{Descriptor: e.descriptor, Runtime: rt}, nil
}

// Descriptor returns the current descriptor behind a handle, for the
// scheduler to read interval overrides and params without a full List
// scan.
func (r *Registry) Descriptor(h Handle) (model.Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[h]
	if !ok {
		return model.Descriptor{}, infraerrors.NotFound("device", h.String())
	}
	return e.descriptor, nil
}

// Driver returns the live Driver behind a handle, for the scheduler to
// call Probe/Act on.
func (r *Registry) Driver(h Handle) (driver.Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[h]
	if !ok {
		return nil, infraerrors.NotFound("device", h.String())
	}
	return e.driver, nil
}

// DriverByID returns the live Driver behind a configured device ID, for
// callers that hold an id rather than a handle (the tool dispatcher).
func (r *Registry) DriverByID(id string) (driver.Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.byID[id]
	if !ok {
		return nil, infraerrors.NotFound("device", id)
	}
	return r.entries[h].driver, nil
}

// UpdateRuntime lets the owning scheduler task publish a new runtime
// snapshot for a device. It is the only mutation path for RuntimeState.
func (r *Registry) UpdateRuntime(h Handle, fn func(*model.RuntimeState)) error {
	r.mu.RLock()
	e, ok := r.entries[h]
	r.mu.RUnlock()
	if !ok {
		return infraerrors.NotFound("device", h.String())
	}
	e.mu.Lock()
	fn(&e.runtime)
	e.mu.Unlock()
	return nil
}

// Handles returns every currently registered handle, for the scheduler to
// start one task per device at startup.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	hs := make([]Handle, 0, len(r.entries))
	for h := range r.entries {
		hs = append(hs, h)
	}
	return hs
}

// Reload replaces the entire device set with descriptors, transactionally:
// every new/changed driver is constructed first; only if all of them
// succeed does the swap happen, after which removed and replaced drivers
// are closed. If any construction fails, the old set is left untouched
// and the error identifies which descriptor failed.
func (r *Registry) Reload(ctx context.Context, descriptors []model.Descriptor) (Diff, error) {
	r.mu.RLock()
	oldByID := make(map[string]*entry, len(r.byID))
	for id, h := range r.byID {
		oldByID[id] = r.entries[h]
	}
	r.mu.RUnlock()

	seen := make(map[string]bool, len(descriptors))
	newEntries := make(map[Handle]*entry, len(descriptors))
	newByID := make(map[string]Handle, len(descriptors))
	var diff Diff
	var toClose []driver.Driver

	for _, desc := range descriptors {
		if seen[desc.ID] {
			return Diff{}, infraerrors.DuplicateID(desc.ID)
		}
		seen[desc.ID] = true

		if old, existed := oldByID[desc.ID]; existed {
			e, err := r.build(ctx, desc)
			if err != nil {
				return Diff{}, fmt.Errorf("reload device %q: %w", desc.ID, err)
			}
			old.mu.Lock()
			e.runtime = old.runtime
			old.mu.Unlock()
			newEntries[e.handle] = e
			newByID[desc.ID] = e.handle
			diff.Replaced = append(diff.Replaced, desc.ID)
			toClose = append(toClose, old.driver)
			continue
		}

		e, err := r.build(ctx, desc)
		if err != nil {
			return Diff{}, fmt.Errorf("reload device %q: %w", desc.ID, err)
		}
		newEntries[e.handle] = e
		newByID[desc.ID] = e.handle
		diff.Added = append(diff.Added, desc.ID)
	}

	for id, old := range oldByID {
		if !seen[id] {
			diff.Removed = append(diff.Removed, id)
			toClose = append(toClose, old.driver)
		}
	}

	r.mu.Lock()
	r.entries = newEntries
	r.byID = newByID
	r.mu.Unlock()

	for _, d := range toClose {
		_ = d.Close()
	}

	return diff, nil
}

// Len reports how many devices are currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
