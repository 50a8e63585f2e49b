package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"convertd/internal/blob"
	"convertd/internal/config"
	"convertd/internal/dispatch"
	"convertd/internal/plugin"
)

// MinFreeBytes is the free space below which the blob directory fails.
const MinFreeBytes = 512 << 20

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace fails when the filesystem holding path has less than min
// bytes available.
func CheckFreeSpace(name, path string, min uint64) Result {
	free, err := blob.FreeBytes(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	detail := fmt.Sprintf("%s free on %s", humanize.IBytes(free), path)
	if free < min {
		return Result{Name: name, Detail: fmt.Sprintf("%s (below %s)", detail, humanize.IBytes(min))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckWorker verifies the remote worker endpoint answers its health route
// with the configured token. It uses a 5-second timeout and a single attempt.
func CheckWorker(ctx context.Context, endpoint, token string) Result {
	const name = "Worker endpoint"

	transport, err := dispatch.NewHTTPTransport(endpoint, token, 5*time.Second)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := transport.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeNetError(endpoint, err)}
	}
	return Result{Name: name, Passed: true, Detail: endpoint + " (reachable)"}
}

// CheckMinIO verifies the bucket is reachable with the configured credentials.
func CheckMinIO(ctx context.Context, cfg config.MinIO) Result {
	const name = "MinIO bucket"

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := blob.NewMinIOStore(checkCtx, cfg)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(cfg.Endpoint, err)}
	}
	if err := store.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeNetError(cfg.Endpoint, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s/%s (reachable)", cfg.Endpoint, cfg.Bucket)}
}

// CheckManifest verifies the tool override manifest parses.
func CheckManifest(path string) Result {
	const name = "Tool manifest"

	m, err := plugin.LoadManifest(path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d overrides)", path, len(m.Tools))}
}

func summarizeNetError(target string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s (timed out)", target)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("%s (timed out)", target)
	}
	return fmt.Sprintf("%s (%v)", target, err)
}
