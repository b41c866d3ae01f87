package engine

// Identity is a worker's current Session for one target. The Fetcher may
// replace the Session on rotation; the worker only ever holds the Identity.
type Identity struct {
	Target    string
	sess      Session
	rotations int
}

// Session returns the current session.
func (id *Identity) Session() Session { return id.sess }

// ProfileID returns the bound profile's ID.
func (id *Identity) ProfileID() string { return id.sess.Profile().ID }

// Rotations counts how many times the session was replaced.
func (id *Identity) Rotations() int { return id.rotations }

// Close releases the current session.
func (id *Identity) Close() error {
	if id.sess == nil {
		return nil
	}
	return id.sess.Close()
}
