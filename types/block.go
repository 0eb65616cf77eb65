package types

// TxOutcome is the result of executing a single transaction.
type TxOutcome struct {
	// Position of this tx in the block (0-indexed).
	Index uint32 `cramberry:"1"`
	// Result code. 0 = success, otherwise the rejection reason.
	Code uint32 `cramberry:"2"`
	// Human-readable result info (not part of consensus).
	Info string `cramberry:"3"`
	// Deterministic result data.
	Data []byte `cramberry:"4"`
	// Events emitted by this transaction. Empty unless Code is 0.
	Events []Event `cramberry:"5"`
}

// OK returns true if the transaction executed successfully.
func (t TxOutcome) OK() bool { return t.Code == 0 }

// BlockOutcome is everything a block execution produced.
type BlockOutcome struct {
	// Per-transaction results, in block order.
	TxOutcomes []TxOutcome `cramberry:"1"`
	// New state fingerprint after this block.
	AppHash AppHash `cramberry:"2"`
}

// Events returns every event in the block in commit order.
func (b BlockOutcome) Events() []Event {
	var events []Event
	for _, o := range b.TxOutcomes {
		events = append(events, o.Events...)
	}
	return events
}

// FinalizedBlock is a decided block delivered for execution. Height is
// the logical time stamped on every claim written in the block.
type FinalizedBlock struct {
	Height        uint64    `cramberry:"1"`
	Time          Timestamp `cramberry:"2"`
	Txs           []Tx      `cramberry:"3"`
	LastBlockHash Hash      `cramberry:"4"`
}

// CommitResult is returned once the application has persisted a block.
type CommitResult struct {
	// Minimum height the app still needs. 0 = no pruning preference.
	RetainHeight uint64 `cramberry:"1"`
}
