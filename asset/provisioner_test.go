package asset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	log *zap.SugaredLogger
)

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}

	log = l.Sugar()
}

type countingFetcher struct {
	calls int
	fetch func(path string) error
}

func (c *countingFetcher) Fetch(ctx context.Context, path string) error {
	c.calls++
	if c.fetch == nil {
		return nil
	}
	return c.fetch(path)
}

func TestEnsureExistingPathNeverFetches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine")
	require.NoError(t, os.WriteFile(path, []byte("bin"), 0o644))

	p := NewProvisioner(log)
	f := &countingFetcher{}
	for i := 0; i < 3; i++ {
		out := p.Ensure(context.Background(), Asset{Name: "engine", Path: path}, f)
		assert.Equal(t, StatusPresent, out.Status)
		assert.True(t, out.Found())
	}
	assert.Equal(t, 0, f.calls)
}

func TestEnsure(t *testing.T) {
	cases := []struct {
		name       string
		fetch      func(path string) error
		expStatus  Status
		expFailure FailureKind
		expExists  bool
	}{
		{
			name:      "fetch creates the path",
			fetch:     func(path string) error { return os.WriteFile(path, []byte("model"), 0o644) },
			expStatus: StatusFetched,
			expExists: true,
		},
		{
			name: "network failure",
			fetch: func(path string) error {
				return &NetworkError{URL: "https://example.invalid/model", Err: errors.New("connection refused")}
			},
			expStatus:  StatusMissing,
			expFailure: FailureNetwork,
		},
		{
			name: "download succeeds but unpacking fails",
			fetch: func(path string) error {
				p := &Pipeline{Steps: []Step{
					{Name: "download", Run: func(context.Context, string) error { return nil }},
					{Name: "unpack", Run: func(context.Context, string) error {
						return &IOError{Op: "open archive", Path: "engine.zip", Err: os.ErrNotExist}
					}},
				}}
				return p.Fetch(context.Background(), path)
			},
			expStatus:  StatusMissing,
			expFailure: FailureIO,
		},
		{
			name:       "fetch claims success without producing the file",
			fetch:      func(path string) error { return nil },
			expStatus:  StatusMissing,
			expFailure: FailureIO,
		},
		{
			name: "fetch writes the file and then fails",
			fetch: func(path string) error {
				require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644))
				return &IOError{Op: "chmod", Path: path, Err: os.ErrPermission}
			},
			expStatus:  StatusIncomplete,
			expFailure: FailureIO,
			expExists:  true,
		},
		{
			name: "unpacking fails after extracting the binary",
			fetch: func(path string) error {
				p := &Pipeline{Steps: []Step{
					{Name: "unpack", Run: func(_ context.Context, path string) error {
						if err := os.WriteFile(path, []byte("bin"), 0o644); err != nil {
							return err
						}
						return &IOError{Op: "extract", Path: "KataGo/libz.so", Err: os.ErrClosed}
					}},
				}}
				return p.Fetch(context.Background(), path)
			},
			expStatus:  StatusIncomplete,
			expFailure: FailureIO,
			expExists:  true,
		},
		{
			name: "fetch writes the file and then loses the network",
			fetch: func(path string) error {
				require.NoError(t, os.WriteFile(path, []byte("weig"), 0o644))
				return &NetworkError{URL: "https://example.invalid/model", Err: errors.New("connection reset")}
			},
			expStatus:  StatusIncomplete,
			expFailure: FailureNetwork,
			expExists:  true,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "asset")
			f := &countingFetcher{fetch: c.fetch}

			out := NewProvisioner(log).Ensure(context.Background(), Asset{Name: "asset", Path: path}, f)

			assert.Equal(t, 1, f.calls)
			assert.Equal(t, c.expStatus, out.Status)
			assert.Equal(t, c.expFailure, out.Failure)
			assert.Equal(t, c.expFailure == FailureNone, out.Found())
			if c.expFailure == FailureNone {
				assert.NoError(t, out.Err)
			} else {
				assert.Error(t, out.Err)
			}

			_, err := os.Stat(path)
			if c.expExists {
				assert.NoError(t, err)
			} else {
				assert.True(t, os.IsNotExist(err))
			}
		})
	}
}

func TestEnsureAllAndMissing(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(present, nil, 0o644))

	var order []string
	fetcher := func(name string, create bool) Fetcher {
		return FetchFunc(func(ctx context.Context, path string) error {
			order = append(order, name)
			if create {
				return os.WriteFile(path, nil, 0o644)
			}
			if name == "incomplete" {
				if err := os.WriteFile(path, nil, 0o644); err != nil {
					return err
				}
				return &IOError{Op: "chmod", Path: path, Err: os.ErrPermission}
			}
			return &NetworkError{URL: "https://example.invalid/" + name, Err: errors.New("unreachable")}
		})
	}

	outcomes := NewProvisioner(log).EnsureAll(context.Background(),
		Requirement{Asset: Asset{Name: "present", Path: present}, Fetcher: fetcher("present", true)},
		Requirement{Asset: Asset{Name: "fetched", Path: filepath.Join(dir, "fetched")}, Fetcher: fetcher("fetched", true)},
		Requirement{Asset: Asset{Name: "missing", Path: filepath.Join(dir, "missing")}, Fetcher: fetcher("missing", false)},
		Requirement{Asset: Asset{Name: "incomplete", Path: filepath.Join(dir, "incomplete")}, Fetcher: fetcher("incomplete", false)},
	)
	require.Len(t, outcomes, 4)
	assert.Equal(t, []string{"fetched", "missing", "incomplete"}, order)

	missing := Missing(outcomes)
	require.Len(t, missing, 2)
	assert.Equal(t, "missing", missing[0].Asset.Name)
	assert.Equal(t, FailureNetwork, missing[0].Failure)
	assert.Equal(t, "incomplete", missing[1].Asset.Name)
	assert.Equal(t, StatusIncomplete, missing[1].Status)
	assert.Equal(t, FailureIO, missing[1].Failure)
}

func TestEnsureCustomExists(t *testing.T) {
	p := NewProvisioner(log)
	p.Exists = func(string) bool { return true }
	f := &countingFetcher{}
	out := p.Ensure(context.Background(), Asset{Name: "virtual", Path: "/does/not/exist"}, f)
	assert.Equal(t, StatusPresent, out.Status)
	assert.Equal(t, 0, f.calls)
}
