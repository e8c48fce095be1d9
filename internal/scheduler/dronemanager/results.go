package dronemanager

import (
	"context"
)

// CopyResultsMethod is the remote call that rsyncs a results directory from a
// drone into the permanent results repository.
const CopyResultsMethod = "copy_to_results_repository"

// RemoteResultsCopier performs results copy-back by asking the owning drone
// to push the directory to the results host.
type RemoteResultsCopier struct {
	executor Executor
}

func NewRemoteResultsCopier(executor Executor) *RemoteResultsCopier {
	return &RemoteResultsCopier{executor: executor}
}

func (c *RemoteResultsCopier) Copy(ctx context.Context, p Process, sourcePath string, destinationPath string) error {
	if destinationPath == "" {
		destinationPath = sourcePath
	}
	return c.executor.Call(ctx, p.Drone, RemoteCall{
		Method: CopyResultsMethod,
		Args:   []interface{}{sourcePath, destinationPath},
	})
}
