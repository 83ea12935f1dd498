package asset

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Asset is a named local resource that must exist before the engine can run.
type Asset struct {
	// Name is a human-readable label used in logs.
	Name string
	Path string
}

// Fetcher installs an asset at the given path.
type Fetcher interface {
	Fetch(ctx context.Context, path string) error
}

// FetchFunc adapts a function to a Fetcher.
type FetchFunc func(ctx context.Context, path string) error

func (f FetchFunc) Fetch(ctx context.Context, path string) error { return f(ctx, path) }

// Status describes where an asset stands after provisioning.
type Status int

const (
	// StatusPresent means the asset already existed and no fetch was attempted.
	StatusPresent Status = iota
	// StatusFetched means the asset was missing and a fetch installed it.
	StatusFetched
	// StatusMissing means the asset is still absent after fetching.
	StatusMissing
	// StatusIncomplete means the fetch failed after it had already created the path,
	// so whatever is there can't be trusted.
	StatusIncomplete
)

func (s Status) String() string {
	switch s {
	case StatusPresent:
		return "present"
	case StatusFetched:
		return "fetched"
	case StatusMissing:
		return "missing"
	case StatusIncomplete:
		return "incomplete"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Outcome is the result of provisioning a single asset.
type Outcome struct {
	Asset   Asset
	Status  Status
	Failure FailureKind
	// Err is the failure that left the asset unusable, if any.
	Err error
}

// Found returns true if the asset is present and its installation did not fail.
func (o Outcome) Found() bool {
	return o.Status == StatusPresent || o.Status == StatusFetched
}

// ErrNotProduced is reported when a fetch returned successfully but the asset path still doesn't exist.
var ErrNotProduced = errors.New("fetch did not produce the asset")

// Provisioner makes sure local assets exist, fetching the ones that don't.
type Provisioner struct {
	Log *zap.SugaredLogger
	// Exists reports whether a path denotes an existing filesystem entry.
	// Defaults to a successful os.Stat.
	Exists func(path string) bool
}

// NewProvisioner returns a Provisioner that checks existence with os.Stat.
func NewProvisioner(log *zap.SugaredLogger) *Provisioner {
	return &Provisioner{
		Log:    log.Named("provisioner"),
		Exists: fileExists,
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (p *Provisioner) exists(path string) bool {
	if p.Exists == nil {
		return fileExists(path)
	}
	return p.Exists(path)
}

// Ensure makes sure that the asset exists, invoking the fetcher if it doesn't.
// It never fails; failures are logged and reported in the Outcome.
func (p *Provisioner) Ensure(ctx context.Context, a Asset, f Fetcher) Outcome {
	log := p.Log.With("Asset", a.Name, "Path", a.Path)

	if p.exists(a.Path) {
		log.Infof("%s found", a.Name)
		return Outcome{Asset: a, Status: StatusPresent}
	}

	log.Infof("%s not found, fetching", a.Name)
	err := f.Fetch(ctx, a.Path)

	// re-check regardless of what the fetcher says, it may claim success without producing the file
	exists := p.exists(a.Path)
	if err == nil && exists {
		log.Infof("%s found", a.Name)
		return Outcome{Asset: a, Status: StatusFetched}
	}

	status := StatusMissing
	if err == nil {
		err = &IOError{Op: "stat", Path: a.Path, Err: ErrNotProduced}
	} else if exists {
		status = StatusIncomplete
	}
	kind := Classify(err)
	log.Errorw("unable to provision asset", "Failure", kind.String(), "Status", status.String(), "Error", err)
	return Outcome{Asset: a, Status: status, Failure: kind, Err: err}
}

// Requirement pairs an asset with the fetcher that installs it.
type Requirement struct {
	Asset   Asset
	Fetcher Fetcher
}

// EnsureAll provisions each requirement in order, one at a time.
func (p *Provisioner) EnsureAll(ctx context.Context, reqs ...Requirement) []Outcome {
	outcomes := make([]Outcome, 0, len(reqs))
	for _, r := range reqs {
		outcomes = append(outcomes, p.Ensure(ctx, r.Asset, r.Fetcher))
	}
	return outcomes
}

// Missing returns the outcomes whose assets are absent or were left incomplete.
func Missing(outcomes []Outcome) []Outcome {
	var missing []Outcome
	for _, o := range outcomes {
		if !o.Found() {
			missing = append(missing, o)
		}
	}
	return missing
}
