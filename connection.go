package fetchz

import (
	"context"
	"errors"
)

// Fetcher retrieves the bytes stored at a remote path.
type Fetcher interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// Lister lists the entry names under a remote directory, in the order the
// remote side reports them.
type Lister interface {
	List(ctx context.Context, path string) ([]string, error)
}

// Connection is an open session to a remote data source. Its lifecycle is
// owned by the caller: pipelines use a connection but never close it.
//
// A connection may be captured by several stages of the same pipeline, but
// it is not safe to run two pipelines against one connection at once.
type Connection interface {
	Fetcher
	Lister
	Close() error
}

// Download returns a stage that maps a path to the bytes stored there.
// Failures surface as a *TransferError; Download never retries (see Retry).
func Download(conn Fetcher) Processor[string, []byte] {
	return Apply("download", func(ctx context.Context, path string) ([]byte, error) {
		data, err := conn.Fetch(ctx, path)
		if err != nil {
			return nil, asTransferError("download", path, err)
		}
		return data, nil
	})
}

// Contents returns a stage that maps a directory path to the names of its
// entries. Failures surface as a *TransferError.
func Contents(conn Lister) Processor[string, []string] {
	return Apply("contents", func(ctx context.Context, path string) ([]string, error) {
		names, err := conn.List(ctx, path)
		if err != nil {
			return nil, asTransferError("contents", path, err)
		}
		return names, nil
	})
}

func asTransferError(op, path string, err error) error {
	if errors.Is(err, ErrTransfer) {
		return err
	}
	return &TransferError{Op: op, Path: path, Err: err}
}
