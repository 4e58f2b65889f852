package barrier

import "github.com/llxisdsh/pb"

// Registry is a namespace of named barriers, letting independent parts of
// a program rendezvous on a barrier identified by name without having to
// plumb a *Barrier through every layer between the creator and the
// participants. It is adapted from oncegroup.go's OnceGroup: the same
// pb.MapOf[K, V].ProcessEntry get-or-create-with-duplicate-suppression
// pattern, specialized so the "call" being deduplicated is a barrier's
// construction rather than a one-shot function's execution.
type Registry struct {
	m pb.MapOf[string, *Barrier]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// GetOrCreate returns the barrier registered under name, creating it with
// the given total and opts if this is the first call for that name.
// Concurrent GetOrCreate calls for the same unregistered name construct
// exactly one Barrier; all but one caller observe the winner's instance.
// total and opts are ignored for a name that already has a barrier.
func (r *Registry) GetOrCreate(name string, total int, opts ...Option) (*Barrier, error) {
	var createErr error
	b, _ := r.m.ProcessEntry(
		name,
		func(l *pb.EntryOf[string, *Barrier]) (*pb.EntryOf[string, *Barrier], *Barrier, bool) {
			if l != nil {
				return l, l.Value, true
			}
			nb, err := New(total, opts...)
			if err != nil {
				createErr = err
				return nil, nil, false
			}
			return &pb.EntryOf[string, *Barrier]{Value: nb}, nb, false
		},
	)
	if createErr != nil {
		return nil, createErr
	}
	return b, nil
}

// Lookup returns the barrier registered under name, if any.
func (r *Registry) Lookup(name string) (*Barrier, bool) {
	return r.m.Load(name)
}

// Forget removes name from the registry without disposing its barrier.
// A later GetOrCreate for the same name constructs a fresh barrier.
func (r *Registry) Forget(name string) {
	r.m.Delete(name)
}
