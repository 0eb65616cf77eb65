package types

// MempoolContext tells the application whether a transaction is being
// seen for the first time or re-checked after a commit.
type MempoolContext uint8

const (
	MempoolFirstSeen    MempoolContext = 1
	MempoolRevalidation MempoolContext = 2
)

// GateVerdict is the application's decision on mempool admission.
type GateVerdict struct {
	// 0 = admitted. Otherwise the code the tx would fail with.
	Code uint32 `cramberry:"1"`
	Info string `cramberry:"2"`
	// Higher goes first.
	Priority int64 `cramberry:"3"`
	// Signer account, for same-sender sequencing.
	Sender string `cramberry:"4"`
}

// Accepted returns true if the transaction was admitted.
func (v GateVerdict) Accepted() bool { return v.Code == 0 }
