package social

import (
	"context"
	"sync"
)

// StubSource serves scripted posts per handle. Used in tests and dry runs.
type StubSource struct {
	mu       sync.Mutex
	posts    map[string][]Post
	failNext bool
	err      error
}

// NewStubSource creates an empty stub.
func NewStubSource() *StubSource {
	return &StubSource{posts: make(map[string][]Post)}
}

// AddPost appends a post to a handle's timeline.
func (s *StubSource) AddPost(post Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[post.Handle] = append(s.posts[post.Handle], post)
}

// SetFailNext makes the next FetchRecent return err.
func (s *StubSource) SetFailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
	s.err = err
}

// FetchRecent implements Source.
func (s *StubSource) FetchRecent(_ context.Context, handle string, limit int) ([]Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext {
		s.failNext = false
		return nil, s.err
	}

	posts := s.posts[handle]
	if limit > 0 && len(posts) > limit {
		posts = posts[len(posts)-limit:]
	}
	out := make([]Post, len(posts))
	copy(out, posts)
	return out, nil
}
