package scanning

import "context"

// CommitSource turns a Target into the ordered commits it selects.
type CommitSource interface {
	// Resolve resolves the target's selector eagerly. Any failure is a
	// *ResolutionError returned before a commit has been produced.
	Resolve(ctx context.Context, target Target) (CommitStream, error)
}

// CommitStream is the resolved, finite and ordered sequence of commits of one
// target. It is consumed once.
type CommitStream interface {
	// Len returns the number of commits the stream yields in total.
	Len() int
	// NextID returns the id of the next commit in traversal order, or io.EOF.
	NextID(ctx context.Context) (CommitID, error)
	// Load computes the CommitInfo of a commit yielded by NextID. It is safe
	// for concurrent use. Per-file problems are returned as *ReadError
	// warnings alongside a CommitInfo that omits the affected files.
	Load(ctx context.Context, id CommitID) (CommitInfo, []error, error)
	// Next is NextID followed by Load for sequential consumers.
	Next(ctx context.Context) (CommitInfo, []error, error)
}
