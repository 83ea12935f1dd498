package asset

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Step is a single unit of work in a Pipeline.
// Run receives the target asset path.
type Step struct {
	Name string
	Run  func(ctx context.Context, path string) error
}

// Pipeline is a Fetcher that runs its steps in order and stops at the first failure.
// Nothing is rolled back when a step fails.
type Pipeline struct {
	Log   *zap.SugaredLogger
	Steps []Step
}

func (p *Pipeline) Fetch(ctx context.Context, path string) error {
	for _, s := range p.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.Log != nil {
			p.Log.Info(s.Name)
		}
		if err := s.Run(ctx, path); err != nil {
			return fmt.Errorf("%s: %w", s.Name, err)
		}
	}
	return nil
}

// DownloadStep downloads url into dest.
func DownloadStep(d Downloader, url, dest string) Step {
	return Step{
		Name: fmt.Sprintf("downloading %s", url),
		Run: func(ctx context.Context, _ string) error {
			return d.Download(ctx, url, dest)
		},
	}
}

// DownloadToPathStep downloads url directly to the asset path.
func DownloadToPathStep(d Downloader, url string) Step {
	return Step{
		Name: fmt.Sprintf("downloading %s", url),
		Run: func(ctx context.Context, path string) error {
			return d.Download(ctx, url, path)
		},
	}
}

// UnzipStep expands the zip archive into dir.
func UnzipStep(archive, dir string) Step {
	return Step{
		Name: fmt.Sprintf("unpacking %s", archive),
		Run: func(_ context.Context, _ string) error {
			return Unzip(archive, dir)
		},
	}
}

// RemoveStep removes a staging file.
func RemoveStep(path string) Step {
	return Step{
		Name: fmt.Sprintf("removing %s", path),
		Run: func(_ context.Context, _ string) error {
			if err := os.Remove(path); err != nil {
				return &IOError{Op: "remove", Path: path, Err: err}
			}
			return nil
		},
	}
}

// ExecutableStep sets the owner execute permission on the asset path.
func ExecutableStep(log *zap.SugaredLogger) Step {
	return Step{
		Name: "setting execute permission",
		Run: func(_ context.Context, path string) error {
			return MakeExecutable(log, path)
		},
	}
}
