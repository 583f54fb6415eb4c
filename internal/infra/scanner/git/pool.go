package git

import (
	gogit "github.com/go-git/go-git/v5"
)

// repoPool hands out repository handles so concurrent loads never share a
// handle's object caches and packfile readers.
type repoPool struct {
	path string
	free chan *gogit.Repository
}

const maxPooledRepos = 64

func newRepoPool(path string) *repoPool {
	return &repoPool{
		path: path,
		free: make(chan *gogit.Repository, maxPooledRepos),
	}
}

// get returns an idle handle or opens a new one.
func (p *repoPool) get() (*gogit.Repository, error) {
	select {
	case r := <-p.free:
		return r, nil
	default:
	}
	return openRepository(p.path)
}

func (p *repoPool) put(r *gogit.Repository) {
	select {
	case p.free <- r:
	default:
	}
}
