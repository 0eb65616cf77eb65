package types

// HandshakeRequest is sent by the host on every startup.
type HandshakeRequest struct {
	// The last block the host committed. Nil = genesis (fresh chain).
	LastCommitted *BlockID `cramberry:"1"`
	// Genesis document. Only set when LastCommitted is nil.
	Genesis *GenesisDoc `cramberry:"2"`
}

// HandshakeResponse reports the application's state and capabilities.
type HandshakeResponse struct {
	// The last block the app committed. Nil = app has no state.
	LastBlock *BlockID `cramberry:"1"`
	// App hash at that height.
	AppHash *AppHash `cramberry:"2"`
	// Optional capabilities the app supports.
	Capabilities Capabilities `cramberry:"3"`
}
