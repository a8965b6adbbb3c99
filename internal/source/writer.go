package source

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"

	"github.com/aleksaelezovic/annobrick/internal/annotation"
)

// Schema is the Arrow schema of the annotations table
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: ColumnCompoundIDs, Type: arrow.ListOf(arrow.PrimitiveTypes.Int64), Nullable: true},
	{Name: ColumnSubstanceIDs, Type: arrow.ListOf(arrow.PrimitiveTypes.Int64), Nullable: true},
	{Name: ColumnANID, Type: arrow.PrimitiveTypes.Int64},
	{Name: ColumnData, Type: arrow.BinaryTypes.String},
}, nil)

// WriteParquet writes rows as an annotations table to w, with at most
// rowGroupSize rows per row group.
func WriteParquet(w io.Writer, rows []annotation.Row, rowGroupSize int64) error {
	bldr := array.NewRecordBuilder(memory.DefaultAllocator, Schema)
	defer bldr.Release()

	compounds := bldr.Field(0).(*array.ListBuilder)
	compoundValues := compounds.ValueBuilder().(*array.Int64Builder)
	substances := bldr.Field(1).(*array.ListBuilder)
	substanceValues := substances.ValueBuilder().(*array.Int64Builder)
	anids := bldr.Field(2).(*array.Int64Builder)
	data := bldr.Field(3).(*array.StringBuilder)

	for _, row := range rows {
		compounds.Append(true)
		compoundValues.AppendValues(row.CompoundIDs, nil)
		substances.Append(true)
		substanceValues.AppendValues(row.SubstanceIDs, nil)
		anids.Append(row.ANID)
		data.Append(row.Data)
	}

	rec := bldr.NewRecord()
	defer rec.Release()

	tbl := array.NewTableFromRecords(Schema, []arrow.Record{rec})
	defer tbl.Release()

	if err := pqarrow.WriteTable(tbl, w, rowGroupSize, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps()); err != nil {
		return fmt.Errorf("failed to write parquet table: %w", err)
	}
	return nil
}
