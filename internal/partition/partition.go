package partition

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultMaxMessageSize is the bus message ceiling with 1KB reserved for
// broker-side metadata.
const DefaultMaxMessageSize = (1024 - 1) * 1024

// ErrItemTooLarge is matched by errors returned when a single item cannot fit
// into one message.
var ErrItemTooLarge = errors.New("single item exceeds the maximum message size")

// ItemTooLargeError reports the offending item's position and encoded size
type ItemTooLargeError struct {
	Index   int
	Size    int
	MaxSize int
}

func (e *ItemTooLargeError) Error() string {
	return fmt.Sprintf("item %d encodes to %d bytes, limit is %d: %s", e.Index, e.Size, e.MaxSize, ErrItemTooLarge)
}

func (e *ItemTooLargeError) Is(target error) bool {
	return target == ErrItemTooLarge
}

type span struct {
	lo, hi int
}

// Partition encodes items as JSON arrays, splitting them into contiguous
// chunks so that every buffer fits into maxSize bytes. Order is preserved
// within and across buffers. An empty input yields a single "[]" buffer.
func Partition[T any](items []T, maxSize int) ([][]byte, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("invalid max message size %d", maxSize)
	}
	if items == nil {
		items = []T{}
	}

	var out [][]byte
	// Stack of pending ranges; pushed in reverse so output stays ordered.
	stack := []span{{0, len(items)}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		body, err := json.Marshal(items[cur.lo:cur.hi])
		if err != nil {
			return nil, fmt.Errorf("failed to encode items %d..%d: %w", cur.lo, cur.hi, err)
		}
		if len(body) <= maxSize {
			out = append(out, body)
			continue
		}

		n := cur.hi - cur.lo
		if n <= 1 {
			return nil, &ItemTooLargeError{Index: cur.lo, Size: len(body), MaxSize: maxSize}
		}

		chunks := (len(body) + maxSize - 1) / maxSize
		if chunks > n {
			chunks = n
		}
		size := n / chunks

		for i := chunks - 1; i >= 0; i-- {
			lo := cur.lo + i*size
			hi := lo + size
			if i == chunks-1 {
				hi = cur.hi
			}
			stack = append(stack, span{lo, hi})
		}
	}

	return out, nil
}
