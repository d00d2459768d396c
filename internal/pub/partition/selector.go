// Package partition picks the partition producer that sends each message.
package partition

import (
	"math/rand/v2"

	"pulsarpub/internal/pub"
)

// Selector chooses a partition producer uniformly at random.
type Selector struct {
	intn func(n int) int
}

// NewSelector returns a selector drawing from intn, which must return a
// value in [0, n). A nil intn uses the process-wide random source.
func NewSelector(intn func(n int) int) *Selector {
	if intn == nil {
		intn = rand.IntN
	}

	return &Selector{intn: intn}
}

// Select returns one of partitions. The partition key does not influence
// the choice.
func (s *Selector) Select(partitions []pub.PartitionProducer) (pub.PartitionProducer, error) {
	switch len(partitions) {
	case 0:
		return nil, pub.ErrNoPartitions
	case 1:
		return partitions[0], nil
	default:
		return partitions[s.intn(len(partitions))], nil
	}
}
