package membuf

import "github.com/tutu-network/tutu-infer/internal/domain"

// ModelIO is one data item's input or output tensors: a Buffer plus the
// Shape it was written with, one pair per tensor. A batch reaches a Stage
// as one ModelIO per item.
type ModelIO struct {
	Buffers []*Buffer
	Shapes  []domain.Shape
}

// Num returns the tensor count.
func (m ModelIO) Num() int { return len(m.Buffers) }

// Release releases every buffer backing this ModelIO.
func (m ModelIO) Release() {
	for _, b := range m.Buffers {
		if b != nil {
			b.Release()
		}
	}
}
