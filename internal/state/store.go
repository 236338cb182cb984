// Package state implements the dashboard's reactive cache of the remote virtm
// API. A Store owns one slot per resource plus the shared error slot, and is
// the only way to read or refresh them.
package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"git.cscs.ch/openchami/chamicore-ui/pkg/types"
)

// Resource names.
const (
	ResourceVersion        = "version"
	ResourceMachines       = "machines"
	ResourceSSHKeys        = "sshKeys"
	ResourceImages         = "images"
	ResourceNetworks       = "networks"
	ResourceActivities     = "activities"
	ResourceMachineDetails = "machineDetails"
)

// ErrUnknownResource is returned by Refresh for names that have no slot.
var ErrUnknownResource = errors.New("unknown resource")

// Fetcher is the remote API as seen by the store. *client.Client satisfies it.
type Fetcher interface {
	Version(ctx context.Context) (*types.VersionInfo, error)
	ListMachines(ctx context.Context) ([]types.Record, error)
	ListSSHKeys(ctx context.Context) ([]types.Record, error)
	ListImages(ctx context.Context) ([]types.Record, error)
	ListNetworks(ctx context.Context) ([]types.Record, error)
	ListActivities(ctx context.Context) (*types.ActivityList, error)
	GetMachine(ctx context.Context, id string) (types.Record, error)
}

// Outcome is the result of a refresh. Failures are reported through the
// error slot, never as a returned error.
type Outcome string

const (
	OutcomeUpdated Outcome = "updated"
	OutcomeFailed  Outcome = "failed"
)

// Completion describes one finished refresh.
type Completion struct {
	Resource string
	Key      string
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// Recorder receives every refresh completion.
type Recorder interface {
	RecordRefresh(c Completion)
}

// RecorderFunc allows plain functions to satisfy Recorder.
type RecorderFunc func(c Completion)

// RecordRefresh dispatches to the underlying function.
func (fn RecorderFunc) RecordRefresh(c Completion) {
	if fn == nil {
		return
	}
	fn(c)
}

// Option configures a Store.
type Option func(*Store)

// WithRecorder adds a refresh recorder. May be passed more than once.
func WithRecorder(r Recorder) Option {
	return func(s *Store) {
		if r != nil {
			s.recorders = append(s.recorders, r)
		}
	}
}

// Store is the façade over all cached resources.
type Store struct {
	version    *Slot[string]
	machines   *Slot[[]types.Record]
	sshKeys    *Slot[[]types.Record]
	images     *Slot[[]types.Record]
	networks   *Slot[[]types.Record]
	activities *Slot[[]types.Record]
	details    *KeyedSlot[types.Record]
	errors     *ErrorSlot

	reversedActivities View[[]types.Record]

	recorders []Recorder
}

// New builds a store backed by fetcher. All slots start empty.
func New(fetcher Fetcher, opts ...Option) (*Store, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("state: fetcher is required")
	}

	s := &Store{
		version: newSlot[string](ResourceVersion, "", nil, func(ctx context.Context) (string, error) {
			info, err := fetcher.Version(ctx)
			if err != nil || info == nil {
				return "", err
			}
			return info.Version, nil
		}),
		machines: newRecordsSlot(ResourceMachines, fetcher.ListMachines),
		sshKeys:  newRecordsSlot(ResourceSSHKeys, fetcher.ListSSHKeys),
		images:   newRecordsSlot(ResourceImages, fetcher.ListImages),
		networks: newRecordsSlot(ResourceNetworks, fetcher.ListNetworks),
		activities: newRecordsSlot(ResourceActivities, func(ctx context.Context) ([]types.Record, error) {
			list, err := fetcher.ListActivities(ctx)
			if err != nil || list == nil {
				return nil, err
			}
			return list.Activities, nil
		}),
		details: newKeyedSlot(ResourceMachineDetails, cloneRecord, fetcher.GetMachine),
		errors:  &ErrorSlot{},
	}
	s.reversedActivities = Project(s.activities, Reversed[types.Record])

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func newRecordsSlot(name string, fetch func(ctx context.Context) ([]types.Record, error)) *Slot[[]types.Record] {
	return newSlot(name, []types.Record{}, cloneRecords, func(ctx context.Context) ([]types.Record, error) {
		records, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if records == nil {
			records = []types.Record{}
		}
		return records, nil
	})
}

func cloneRecords(records []types.Record) []types.Record {
	out := make([]types.Record, len(records))
	for i, record := range records {
		out[i] = cloneRecord(record)
	}
	return out
}

// cloneRecord copies the record bytes so callers never share them with a slot.
func cloneRecord(record types.Record) types.Record {
	if record == nil {
		return nil
	}
	return types.Record(bytes.Clone(record))
}

// Resources returns the names accepted by Refresh, in refresh order.
func Resources() []string {
	return []string{
		ResourceVersion,
		ResourceMachines,
		ResourceSSHKeys,
		ResourceImages,
		ResourceNetworks,
		ResourceActivities,
	}
}

// Connect fetches the remote version.
func (s *Store) Connect(ctx context.Context) Outcome {
	return refreshSlot(ctx, s, s.version)
}

// RefreshMachines replaces the machine list.
func (s *Store) RefreshMachines(ctx context.Context) Outcome {
	return refreshSlot(ctx, s, s.machines)
}

// RefreshSSHKeys replaces the SSH key list.
func (s *Store) RefreshSSHKeys(ctx context.Context) Outcome {
	return refreshSlot(ctx, s, s.sshKeys)
}

// RefreshImages replaces the image list.
func (s *Store) RefreshImages(ctx context.Context) Outcome {
	return refreshSlot(ctx, s, s.images)
}

// RefreshNetworks replaces the network list.
func (s *Store) RefreshNetworks(ctx context.Context) Outcome {
	return refreshSlot(ctx, s, s.networks)
}

// RefreshActivities replaces the activity log.
func (s *Store) RefreshActivities(ctx context.Context) Outcome {
	return refreshSlot(ctx, s, s.activities)
}

// RefreshMachineDetail inserts or overwrites the detail entry for id only.
// Surrounding whitespace in id is ignored.
func (s *Store) RefreshMachineDetail(ctx context.Context, id string) Outcome {
	id = strings.TrimSpace(id)
	started := time.Now()
	err := s.details.refresh(context.WithoutCancel(ctx), id, s.errors)
	return s.complete(ResourceMachineDetails, id, started, err)
}

// Refresh refreshes a wholesale resource by name.
func (s *Store) Refresh(ctx context.Context, resource string) (Outcome, error) {
	switch resource {
	case ResourceVersion:
		return s.Connect(ctx), nil
	case ResourceMachines:
		return s.RefreshMachines(ctx), nil
	case ResourceSSHKeys:
		return s.RefreshSSHKeys(ctx), nil
	case ResourceImages:
		return s.RefreshImages(ctx), nil
	case ResourceNetworks:
		return s.RefreshNetworks(ctx), nil
	case ResourceActivities:
		return s.RefreshActivities(ctx), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownResource, resource)
	}
}

// refreshSlot detaches ctx from its cancellation: once issued, a refresh ends
// only on the transport's own success or failure. Values such as the trace
// span still flow to the request.
func refreshSlot[T any](ctx context.Context, s *Store, slot *Slot[T]) Outcome {
	started := time.Now()
	err := slot.refresh(context.WithoutCancel(ctx), s.errors)
	return s.complete(slot.Name(), "", started, err)
}

func (s *Store) complete(resource, key string, started time.Time, err error) Outcome {
	outcome := OutcomeUpdated
	if err != nil {
		outcome = OutcomeFailed
	}
	c := Completion{
		Resource: resource,
		Key:      key,
		Outcome:  outcome,
		Err:      err,
		Duration: time.Since(started),
	}
	for _, r := range s.recorders {
		r.RecordRefresh(c)
	}
	return outcome
}

// Version returns the remote service version, or "" before Connect succeeds.
func (s *Store) Version() string { return s.version.Get() }

// Connected reports whether Connect has succeeded at least once.
func (s *Store) Connected() bool { return !s.version.UpdatedAt().IsZero() }

// Machines returns the cached machine list.
func (s *Store) Machines() []types.Record { return s.machines.Get() }

// SSHKeys returns the cached SSH key list.
func (s *Store) SSHKeys() []types.Record { return s.sshKeys.Get() }

// Images returns the cached image list.
func (s *Store) Images() []types.Record { return s.images.Get() }

// Networks returns the cached network list.
func (s *Store) Networks() []types.Record { return s.networks.Get() }

// Activities returns the activity log in server order.
func (s *Store) Activities() []types.Record { return s.activities.Get() }

// ReversedActivities returns the activity log newest first.
func (s *Store) ReversedActivities() []types.Record { return s.reversedActivities() }

// MachineDetail returns the cached detail record for id.
func (s *Store) MachineDetail(id string) (types.Record, bool) { return s.details.Get(id) }

// MachineDetailIDs returns the ids with a cached detail record.
func (s *Store) MachineDetailIDs() []string { return s.details.Keys() }

// MachineDetails returns a copy of all cached detail records.
func (s *Store) MachineDetails() map[string]types.Record { return s.details.All() }

// Error returns the most recent failure from any refresh.
func (s *Store) Error() Failure { return s.errors.Get() }

// List returns a wholesale list resource by name.
func (s *Store) List(resource string) ([]types.Record, bool) {
	switch resource {
	case ResourceMachines:
		return s.Machines(), true
	case ResourceSSHKeys:
		return s.SSHKeys(), true
	case ResourceImages:
		return s.Images(), true
	case ResourceNetworks:
		return s.Networks(), true
	case ResourceActivities:
		return s.Activities(), true
	default:
		return nil, false
	}
}

// Snapshot returns every slot and view at once. Slots are read one after
// another, so a refresh completing mid-call may be partially reflected.
func (s *Store) Snapshot() types.Snapshot {
	return types.Snapshot{
		Version:            s.Version(),
		Machines:           s.Machines(),
		SSHKeys:            s.SSHKeys(),
		Images:             s.Images(),
		Networks:           s.Networks(),
		MachineDetails:     s.MachineDetails(),
		Activities:         s.Activities(),
		ReversedActivities: s.ReversedActivities(),
		Error:              s.Error().Value(),
	}
}

// Subscribe registers obs on every slot, including the error slot. The
// returned func cancels all those subscriptions.
func (s *Store) Subscribe(obs Observer) func() {
	cancels := []func(){
		s.version.Subscribe(obs),
		s.machines.Subscribe(obs),
		s.sshKeys.Subscribe(obs),
		s.images.Subscribe(obs),
		s.networks.Subscribe(obs),
		s.activities.Subscribe(obs),
		s.details.Subscribe(obs),
		s.errors.Subscribe(obs),
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

// SubscribeResource registers obs on a single named slot.
func (s *Store) SubscribeResource(resource string, obs Observer) (func(), error) {
	switch resource {
	case ResourceVersion:
		return s.version.Subscribe(obs), nil
	case ResourceMachines:
		return s.machines.Subscribe(obs), nil
	case ResourceSSHKeys:
		return s.sshKeys.Subscribe(obs), nil
	case ResourceImages:
		return s.images.Subscribe(obs), nil
	case ResourceNetworks:
		return s.networks.Subscribe(obs), nil
	case ResourceActivities:
		return s.activities.Subscribe(obs), nil
	case ResourceMachineDetails:
		return s.details.Subscribe(obs), nil
	case ResourceError:
		return s.errors.Subscribe(obs), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, resource)
	}
}

// ObserverCount returns the number of subscriptions across all slots.
func (s *Store) ObserverCount() int {
	return s.version.observers.len() +
		s.machines.observers.len() +
		s.sshKeys.observers.len() +
		s.images.observers.len() +
		s.networks.observers.len() +
		s.activities.observers.len() +
		s.details.observers.len() +
		s.errors.observers.len()
}
