package websocket

import "sync"

// Registry tracks which connections belong to which authenticated user. A user
// may hold any number of simultaneous connections (tabs, devices). A user key
// exists only while at least one connection is bound to it.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[string]struct{} // user id -> connection ids
	byConn map[string]string              // connection id -> user id
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[string]struct{}),
		byConn: make(map[string]string),
	}
}

// Authenticate binds connID to userID. Calling it again with the same pair is
// a no-op; calling it with a different user moves the connection.
func (r *Registry) Authenticate(connID, userID string) {
	if connID == "" || userID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[connID]; ok {
		if prev == userID {
			return
		}
		r.detach(connID, prev)
	}

	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]struct{})
		r.byUser[userID] = conns
	}
	conns[connID] = struct{}{}
	r.byConn[connID] = userID
}

// Disconnect removes connID and returns the user it was bound to, or "" if it
// was never authenticated.
func (r *Registry) Disconnect(connID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return ""
	}
	r.detach(connID, userID)
	return userID
}

func (r *Registry) detach(connID, userID string) {
	delete(r.byConn, connID)
	if conns, ok := r.byUser[userID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byUser, userID)
		}
	}
}

// ConnectionsFor returns the connection ids bound to userID. Unknown users
// yield an empty slice.
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	return ids
}

// UserFor returns the user bound to connID.
func (r *Registry) UserFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.byConn[connID]
	return userID, ok
}

// IsOnline reports whether userID has at least one connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// UserCount returns the number of users with at least one connection.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// ConnectionCount returns the number of authenticated connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
