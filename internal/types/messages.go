package types

type CrashMessage struct {
	RunID    string
	Input    []byte   // the message that triggered the crash
	Ancestry [][]byte // prefix messages sent before Input in the same session
	State    StateID  // state the input was generated for
	Outcome  Outcome
	Output   []byte // tail of the target's stderr, if captured
	Exec     uint64 // execution counter at the time of the crash
	Trace    string // exported span context of the run, set by the crash manager
}

type SeedMessage struct {
	RunID   string
	Input   []byte
	State   StateID
	NewBits int
}

type CrashNotification struct {
	RunID     string `json:"run_id"`
	State     string `json:"state"`
	Outcome   string `json:"outcome"`
	Path      string `json:"path"`
	Signature string `json:"signature"`
	Trace     string `json:"trace,omitempty"`
}

type CorpusBundleMessage struct {
	RunID      string `json:"run_id"`
	State      string `json:"state"`
	BundlePath string `json:"seeds"`
	Count      int    `json:"count"`
}
