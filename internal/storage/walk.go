// ABOUTME: Tagged result variant for cursor walks and the generic walk-and-apply combinator
// ABOUTME: A walk step either stops, writes a replacement record, or skips to the next one

package storage

// Action tags a Result.
type Action int

const (
	ActionSkip Action = iota
	ActionWrite
	ActionStop
)

// Result is the outcome of visiting one record during a walk or an update.
type Result[T any] struct {
	Action Action
	Record T
}

// Skip leaves the record unchanged and continues.
func Skip[T any]() Result[T] { return Result[T]{Action: ActionSkip} }

// Write stores rec and continues.
func Write[T any](rec T) Result[T] { return Result[T]{Action: ActionWrite, Record: rec} }

// Stop ends the walk without writing.
func Stop[T any]() Result[T] { return Result[T]{Action: ActionStop} }

// Walk feeds records to fn in order, calls put for every Write result and
// ends early on Stop. It returns the number of records written.
func Walk[T any](records []T, fn func(T) Result[T], put func(T) error) (int, error) {
	written := 0
	for _, rec := range records {
		res := fn(rec)
		switch res.Action {
		case ActionStop:
			return written, nil
		case ActionWrite:
			if err := put(res.Record); err != nil {
				return written, err
			}
			written++
		}
	}
	return written, nil
}
