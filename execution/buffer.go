package execution

import (
	"mit.edu/dsg/hashexec/storage"
)

// BufferState is the readiness of an input buffer.
type BufferState int

const (
	// BufferReady means a tuple is available through Tuple.
	BufferReady BufferState = iota
	// BufferUnderflow means the upstream producer has nothing buffered right now. RequestData may pull more.
	BufferUnderflow
	// BufferEOS means the upstream producer is exhausted.
	BufferEOS
)

func (s BufferState) String() string {
	switch s {
	case BufferReady:
		return "Ready"
	case BufferUnderflow:
		return "Underflow"
	case BufferEOS:
		return "EOS"
	}
	return "unknown"
}

// InputBuffer is the read side of the dataflow protocol between the engine and its upstream producer.
//
// Tuples are peeked, not popped: Tuple returns the same row until Consume is called, so a row that could not be
// processed (for instance because the hash table overflowed) is still there for the next attempt. The tuple
// returned by Tuple may point into memory owned by the buffer and is only valid until Consume.
type InputBuffer interface {
	// Desc describes the layout of the rows of this input.
	Desc() *storage.RawTupleDesc
	// State reports whether a tuple is available.
	State() BufferState
	// Tuple returns the current tuple. Only valid in BufferReady.
	Tuple() storage.Tuple
	// Consume advances past the current tuple.
	Consume()
	// RequestData asks the producer for more rows. It returns true if State may have changed to BufferReady or
	// BufferEOS, false if the producer has nothing to give and the caller should yield.
	RequestData() bool
	// Error returns the failure that ended the input, if any.
	Error() error
}

// OutputBuffer is the write side of the dataflow protocol between the engine and its downstream consumer.
type OutputBuffer interface {
	// Produce hands a row to the consumer, which must copy it if it keeps it. It returns false, without taking
	// the row, when the consumer cannot accept more rows right now.
	Produce(t storage.Tuple) bool
	// MarkEOS signals that no more rows follow.
	MarkEOS()
}

// ExecResult is the reason Execute returned. None of them is an error: every result except ExecEOS is a
// resumable suspension.
type ExecResult int

const (
	// ExecBufUnderflow means a live input needs more data before the engine can continue.
	ExecBufUnderflow ExecResult = iota
	// ExecBufOverflow means the output buffer refused a row; it is retried on the next Execute.
	ExecBufOverflow
	// ExecQuantumExpired means the engine produced its quota of rows for this scheduling slice.
	ExecQuantumExpired
	// ExecEOS means all output has been produced and the output buffer was marked EOS.
	ExecEOS
)

func (r ExecResult) String() string {
	switch r {
	case ExecBufUnderflow:
		return "BufUnderflow"
	case ExecBufOverflow:
		return "BufOverflow"
	case ExecQuantumExpired:
		return "QuantumExpired"
	case ExecEOS:
		return "EOS"
	}
	return "unknown"
}

// Quantum bounds the work of one Execute call.
type Quantum struct {
	// MaxTuples is the number of rows Execute may produce before it yields with ExecQuantumExpired.
	MaxTuples int
}
