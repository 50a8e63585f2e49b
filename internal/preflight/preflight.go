package preflight

import (
	"context"

	"convertd/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	switch cfg.Storage.Backend {
	case config.StorageMinIO:
		results = append(results, CheckMinIO(ctx, cfg.Storage.MinIO))
	default:
		results = append(results,
			CheckDirectoryAccess("Blob directory", cfg.Paths.BlobDir),
			CheckFreeSpace("Blob free space", cfg.Paths.BlobDir, MinFreeBytes),
		)
	}

	if cfg.Worker.Mode == config.WorkerRemote {
		results = append(results, CheckWorker(ctx, cfg.Worker.Endpoint, cfg.Worker.Token))
	}

	if cfg.Tools.Manifest != "" {
		results = append(results, CheckManifest(cfg.Tools.Manifest))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
