package state

import (
	"context"
	"encoding/json"

	"git.cscs.ch/openchami/chamicore-ui/pkg/types"
)

// mockFetcher implements Fetcher for tests. Unset Fn fields panic when
// called, which flags an unexpected request.
type mockFetcher struct {
	versionFn        func(ctx context.Context) (*types.VersionInfo, error)
	listMachinesFn   func(ctx context.Context) ([]types.Record, error)
	listSSHKeysFn    func(ctx context.Context) ([]types.Record, error)
	listImagesFn     func(ctx context.Context) ([]types.Record, error)
	listNetworksFn   func(ctx context.Context) ([]types.Record, error)
	listActivitiesFn func(ctx context.Context) (*types.ActivityList, error)
	getMachineFn     func(ctx context.Context, id string) (types.Record, error)
}

func (m *mockFetcher) Version(ctx context.Context) (*types.VersionInfo, error) {
	return m.versionFn(ctx)
}

func (m *mockFetcher) ListMachines(ctx context.Context) ([]types.Record, error) {
	return m.listMachinesFn(ctx)
}

func (m *mockFetcher) ListSSHKeys(ctx context.Context) ([]types.Record, error) {
	return m.listSSHKeysFn(ctx)
}

func (m *mockFetcher) ListImages(ctx context.Context) ([]types.Record, error) {
	return m.listImagesFn(ctx)
}

func (m *mockFetcher) ListNetworks(ctx context.Context) ([]types.Record, error) {
	return m.listNetworksFn(ctx)
}

func (m *mockFetcher) ListActivities(ctx context.Context) (*types.ActivityList, error) {
	return m.listActivitiesFn(ctx)
}

func (m *mockFetcher) GetMachine(ctx context.Context, id string) (types.Record, error) {
	return m.getMachineFn(ctx, id)
}

func records(raw ...string) []types.Record {
	out := make([]types.Record, 0, len(raw))
	for _, r := range raw {
		out = append(out, types.Record(r))
	}
	return out
}

func recordsFn(raw ...string) func(ctx context.Context) ([]types.Record, error) {
	return func(context.Context) ([]types.Record, error) {
		return records(raw...), nil
	}
}

func failingFn(err error) func(ctx context.Context) ([]types.Record, error) {
	return func(context.Context) ([]types.Record, error) {
		return nil, err
	}
}

// bodyError mimics a remote API error carrying a response body.
type bodyError struct {
	body string
}

func (e *bodyError) Error() string { return "remote API returned 404 Not Found" }

func (e *bodyError) ResponseBody() json.RawMessage { return json.RawMessage(e.body) }
