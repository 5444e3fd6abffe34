package types

// OwnerID identifies the authenticated user that owns chunks, sessions and jobs
type OwnerID string

func (id OwnerID) String() string {
	return string(id)
}
