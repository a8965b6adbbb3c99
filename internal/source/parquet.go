package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet/file"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"

	"github.com/aleksaelezovic/annobrick/internal/annotation"
)

// Column names of the annotations table
const (
	ColumnCompoundIDs  = "EcotoxCID"
	ColumnSubstanceIDs = "EcotoxSID"
	ColumnANID         = "ANID"
	ColumnData         = "Data"
)

var (
	// ErrMissingColumn is returned when the table lacks a required column
	ErrMissingColumn = errors.New("missing column")
	// ErrNullElement is returned for a null inside an id list
	ErrNullElement = errors.New("null list element")
	// ErrIntOverflow is returned for an unsigned id above math.MaxInt64
	ErrIntOverflow = errors.New("integer overflows int64")
)

// ParquetSource reads annotation rows from a Parquet file
type ParquetSource struct {
	path   string
	reader *file.Reader
	arrow  *pqarrow.FileReader
}

// OpenParquet opens path for reading. readBatch is the number of rows
// decoded per Arrow record.
func OpenParquet(path string, readBatch int) (*ParquetSource, error) {
	reader, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file %s: %w", path, err)
	}

	props := pqarrow.ArrowReadProperties{BatchSize: int64(readBatch)}
	fr, err := pqarrow.NewFileReader(reader, props, memory.DefaultAllocator)
	if err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	return &ParquetSource{path: path, reader: reader, arrow: fr}, nil
}

// Path returns the file being read
func (s *ParquetSource) Path() string {
	return s.path
}

// NumRows returns the row count recorded in the file metadata
func (s *ParquetSource) NumRows() int64 {
	return s.reader.NumRows()
}

// Close releases the file
func (s *ParquetSource) Close() error {
	return s.reader.Close()
}

// Batches returns a reader yielding consecutive batches of exactly size
// rows, except for a shorter final batch.
func (s *ParquetSource) Batches(ctx context.Context, size int) (*BatchReader, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid batch size %d", size)
	}
	if s.reader.NumRowGroups() == 0 {
		return &BatchReader{size: size, done: true}, nil
	}
	rr, err := s.arrow.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create record reader: %w", err)
	}
	return &BatchReader{records: rr, size: size}, nil
}

// FirstRow returns the first row of row group 0 with every field
// stringified, keyed by column name.
func (s *ParquetSource) FirstRow(ctx context.Context) (map[string]string, error) {
	if s.reader.NumRowGroups() == 0 {
		return nil, io.EOF
	}
	rr, err := s.arrow.GetRecordReader(ctx, nil, []int{0})
	if err != nil {
		return nil, fmt.Errorf("failed to read row group 0: %w", err)
	}
	defer rr.Release()

	for rr.Next() {
		rec := rr.Record()
		if rec.NumRows() == 0 {
			continue
		}
		out := make(map[string]string, rec.NumCols())
		for i, field := range rec.Schema().Fields() {
			out[field.Name] = formatValue(rec.Column(i), 0)
		}
		return out, nil
	}
	if err := rr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return nil, io.EOF
}

// BatchReader regroups Arrow records into fixed-size row batches
type BatchReader struct {
	records  pqarrow.RecordReader
	size     int
	pending  []annotation.Row
	position int64
	done     bool
}

// Next returns the next batch, or io.EOF once every row has been returned
func (b *BatchReader) Next() ([]annotation.Row, error) {
	for !b.done && len(b.pending) < b.size {
		if !b.records.Next() {
			if err := b.records.Err(); err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("failed to read record: %w", err)
			}
			b.done = true
			break
		}
		rows, err := b.decode(b.records.Record())
		if err != nil {
			return nil, err
		}
		b.pending = append(b.pending, rows...)
	}

	if len(b.pending) == 0 {
		return nil, io.EOF
	}

	n := min(b.size, len(b.pending))
	batch := make([]annotation.Row, n)
	copy(batch, b.pending[:n])
	b.pending = b.pending[n:]
	return batch, nil
}

// Close releases the record reader
func (b *BatchReader) Close() {
	if b.records != nil {
		b.records.Release()
	}
}

func (b *BatchReader) decode(rec arrow.Record) ([]annotation.Row, error) {
	cols, err := lookupColumns(rec)
	if err != nil {
		return nil, err
	}

	n := int(rec.NumRows())
	rows := make([]annotation.Row, n)
	for i := 0; i < n; i++ {
		position := b.position + int64(i)

		anid, ok, err := intAt(cols.anid, i)
		if err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", position, ColumnANID, err)
		}
		if !ok {
			return nil, fmt.Errorf("row %d: %s is null", position, ColumnANID)
		}
		compounds, err := intListAt(cols.compounds, i)
		if err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", position, ColumnCompoundIDs, err)
		}
		substances, err := intListAt(cols.substances, i)
		if err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", position, ColumnSubstanceIDs, err)
		}
		data, err := stringAt(cols.data, i)
		if err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", position, ColumnData, err)
		}

		rows[i] = annotation.Row{
			Position:     position,
			ANID:         anid,
			CompoundIDs:  compounds,
			SubstanceIDs: substances,
			Data:         data,
		}
	}
	b.position += int64(n)
	return rows, nil
}

type columns struct {
	compounds  arrow.Array
	substances arrow.Array
	anid       arrow.Array
	data       arrow.Array
}

func lookupColumns(rec arrow.Record) (columns, error) {
	var cols columns
	for _, c := range []struct {
		name string
		dst  *arrow.Array
	}{
		{ColumnCompoundIDs, &cols.compounds},
		{ColumnSubstanceIDs, &cols.substances},
		{ColumnANID, &cols.anid},
		{ColumnData, &cols.data},
	} {
		indices := rec.Schema().FieldIndices(c.name)
		if len(indices) == 0 {
			return columns{}, fmt.Errorf("%w: %s", ErrMissingColumn, c.name)
		}
		*c.dst = rec.Column(indices[0])
	}
	return cols, nil
}

func intAt(arr arrow.Array, i int) (int64, bool, error) {
	if arr.IsNull(i) {
		return 0, false, nil
	}
	switch a := arr.(type) {
	case *array.Int64:
		return a.Value(i), true, nil
	case *array.Int32:
		return int64(a.Value(i)), true, nil
	case *array.Int16:
		return int64(a.Value(i)), true, nil
	case *array.Int8:
		return int64(a.Value(i)), true, nil
	case *array.Uint64:
		v := a.Value(i)
		if v > math.MaxInt64 {
			return 0, false, fmt.Errorf("%w: %d", ErrIntOverflow, v)
		}
		return int64(v), true, nil
	case *array.Uint32:
		return int64(a.Value(i)), true, nil
	case *array.Uint16:
		return int64(a.Value(i)), true, nil
	case *array.Uint8:
		return int64(a.Value(i)), true, nil
	default:
		return 0, false, fmt.Errorf("unsupported integer type %s", arr.DataType())
	}
}

// intListAt reads a list of integers. A null list is empty; a null
// element is an error since dropping it would change the row's edges.
func intListAt(arr arrow.Array, i int) ([]int64, error) {
	if arr.IsNull(i) {
		return nil, nil
	}

	var values arrow.Array
	var start, end int64
	switch a := arr.(type) {
	case *array.List:
		values = a.ListValues()
		start, end = a.ValueOffsets(i)
	case *array.LargeList:
		values = a.ListValues()
		start, end = a.ValueOffsets(i)
	default:
		return nil, fmt.Errorf("unsupported list type %s", arr.DataType())
	}

	out := make([]int64, 0, end-start)
	for j := start; j < end; j++ {
		v, ok, err := intAt(values, int(j))
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w at index %d", ErrNullElement, j-start)
		}
		out = append(out, v)
	}
	return out, nil
}

// stringAt reads a string value; null reads as the empty string
func stringAt(arr arrow.Array, i int) (string, error) {
	if arr.IsNull(i) {
		return "", nil
	}
	switch a := arr.(type) {
	case *array.String:
		return strings.Clone(a.Value(i)), nil
	case *array.LargeString:
		return strings.Clone(a.Value(i)), nil
	case *array.Binary:
		return string(a.Value(i)), nil
	case *array.LargeBinary:
		return string(a.Value(i)), nil
	default:
		return "", fmt.Errorf("unsupported string type %s", arr.DataType())
	}
}

// formatValue renders a cell for display
func formatValue(arr arrow.Array, i int) string {
	if arr.IsNull(i) {
		return "None"
	}
	switch arr.(type) {
	case *array.List, *array.LargeList:
		values, err := intListAt(arr, i)
		if err == nil {
			return fmt.Sprint(values)
		}
	case *array.String, *array.LargeString, *array.Binary, *array.LargeBinary:
		s, err := stringAt(arr, i)
		if err == nil {
			return s
		}
	default:
		if v, ok, err := intAt(arr, i); err == nil && ok {
			return fmt.Sprint(v)
		}
	}
	return arr.ValueStr(i)
}
