package device

// ProgressCallback is called during long operations (flash scans, data node
// streaming) to report progress. Implementations should return quickly: the
// callback runs on the engine goroutine.
type ProgressCallback func(total, current int)

// ResultCallback reports the outcome of a mutating operation. When ok is
// false, errstr carries a human-readable reason. Invoked on the engine
// goroutine.
type ResultCallback func(ok bool, errstr string)

// CredentialCallback reports the outcome of a credential retrieval.
type CredentialCallback func(ok bool, errstr string, service, login, password, description string)

// DataNodeCallback reports the outcome of a data node retrieval.
type DataNodeCallback func(ok bool, errstr string, service string, data []byte)

// RandomCallback reports the outcome of a random number request.
type RandomCallback func(ok bool, errstr string, nums []byte)

// UIDCallback reports the outcome of a UID request.
type UIDCallback func(ok bool, errstr string, uid uint64)
