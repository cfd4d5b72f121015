package remotekit

// DefaultReadBufferSize is the read-ahead buffer used when no hint provider
// is supplied.
const DefaultReadBufferSize = 128 * 1024

// BufferSizeHint supplies a recommended read-ahead size for an endpoint,
// keyed by its host:port identity string. It is queried once per reader
// Open; implementations typically share measurements process-wide so every
// reader against the same endpoint benefits.
type BufferSizeHint interface {
	RecommendedBufferSize(endpoint string) int
}

// FixedBufferSize is a BufferSizeHint returning the same size for every
// endpoint.
type FixedBufferSize int

// RecommendedBufferSize implements BufferSizeHint.
func (s FixedBufferSize) RecommendedBufferSize(string) int {
	if s <= 0 {
		return DefaultReadBufferSize
	}
	return int(s)
}
