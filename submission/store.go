package submission

// Store manages persistence of submission records.
type Store interface {
	// Get returns the submission with the given ID.
	Get(id string) (*Context, bool)
	// List returns all submissions, most recently updated first.
	List() []*Context
	// Save persists a submission.
	Save(*Context) error
	// Delete removes a submission record.
	Delete(id string) error
}
