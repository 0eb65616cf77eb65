package registry

//go:generate mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks

// Store is the persistent key-value storage the registry reads and
// writes. Implementations must make writes visible to subsequent reads
// on the same Store.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key []byte) ([]byte, bool, error)
	// Insert sets key to value, overwriting any previous value.
	Insert(key, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(key []byte) error
	// ContainsKey reports whether key is present.
	ContainsKey(key []byte) (bool, error)
}

// Clock supplies the current logical time.
type Clock interface {
	Now() uint64
}

// AtHeight is a Clock fixed at a block height.
type AtHeight uint64

// Now returns the height.
func (h AtHeight) Now() uint64 { return uint64(h) }
