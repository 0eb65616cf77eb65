package types

// StateQuery is a read of committed application state.
type StateQuery struct {
	Path QueryPath `cramberry:"1"`
	Data []byte    `cramberry:"2"`
}

// StateQueryResult is the application's answer to a StateQuery.
type StateQueryResult struct {
	// 0 = found. Non-zero = not found or bad request.
	Code   uint32 `cramberry:"1"`
	Key    []byte `cramberry:"2"`
	Value  []byte `cramberry:"3"`
	Height uint64 `cramberry:"4"`
	Info   string `cramberry:"5"`
}

// Found returns true if the query produced a value.
func (r StateQueryResult) Found() bool { return r.Code == 0 }
