package models

// Matrix represents a dense, square matrix stored column-major in a flat
// buffer: element (i, j) lives at Data[i + j*Dim]. All matrices handled by
// the engine use this layout, including vectors, which are represented as
// matrices whose columns beyond the first are zero.
type Matrix struct {
	// Dim is the row and column count
	Dim int

	// Data is the flattened column-major buffer, length Dim*Dim
	Data []float64
}

// NewMatrix returns a zeroed dim×dim matrix
func NewMatrix(dim int) *Matrix {
	return &Matrix{
		Dim:  dim,
		Data: make([]float64, dim*dim),
	}
}

// NewVectorMatrix builds the matrix representation of a column vector:
// the entries of column are copied into column 0 and every other entry is
// zero. Kernels that operate on vectors read column 0 only, but the
// zero padding keeps full-matrix kernels from picking up stray values.
func NewVectorMatrix(dim int, column []float64) *Matrix {
	m := NewMatrix(dim)
	copy(m.Data[:dim], column)
	return m
}

// Index returns the flat buffer index of element (i, j)
func (m *Matrix) Index(i, j int) int {
	return i + j*m.Dim
}

// At returns element (i, j)
func (m *Matrix) At(i, j int) float64 {
	return m.Data[i+j*m.Dim]
}

// Set assigns element (i, j)
func (m *Matrix) Set(i, j int, v float64) {
	m.Data[i+j*m.Dim] = v
}

// Row returns a copy of row i
func (m *Matrix) Row(i int) []float64 {
	row := make([]float64, m.Dim)
	for j := 0; j < m.Dim; j++ {
		row[j] = m.Data[i+j*m.Dim]
	}
	return row
}

// Column returns a copy of column j
func (m *Matrix) Column(j int) []float64 {
	col := make([]float64, m.Dim)
	copy(col, m.Data[j*m.Dim:(j+1)*m.Dim])
	return col
}
