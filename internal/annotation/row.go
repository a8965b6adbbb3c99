package annotation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/buger/jsonparser"
)

var (
	ErrMalformedPayload = errors.New("malformed annotation payload")
	ErrNegativeID       = errors.New("negative identifier")
)

// Row is one record of the annotations table
type Row struct {
	// Position is the zero-based row number in the source table
	Position     int64
	ANID         int64
	CompoundIDs  []int64
	SubstanceIDs []int64
	// Data is the JSON payload of the annotation
	Data string
}

// RowMappingError reports a row that could not be mapped to edges
type RowMappingError struct {
	ANID int64
	Row  int64
	Err  error
}

func (e *RowMappingError) Error() string {
	return fmt.Sprintf("failed to map row %d (ANID %d): %v", e.Row, e.ANID, e.Err)
}

func (e *RowMappingError) Unwrap() error {
	return e.Err
}

// Texts extracts Value.StringWithMarkup[].String from the payload, in
// order. A missing Value or StringWithMarkup yields no texts and a
// missing String yields an empty text.
func (r Row) Texts() ([]string, error) {
	raw := []byte(r.Data)
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedPayload)
	}
	if _, dataType, _, err := jsonparser.Get(raw); err != nil || dataType != jsonparser.Object {
		return nil, fmt.Errorf("%w: payload is not an object", ErrMalformedPayload)
	}

	value, err := getTyped(raw, jsonparser.Object, "Value")
	if value == nil || err != nil {
		return nil, err
	}
	markup, err := getTyped(value, jsonparser.Array, "StringWithMarkup")
	if markup == nil || err != nil {
		return nil, err
	}

	var texts []string
	var itemErr error
	_, err = jsonparser.ArrayEach(markup, func(item []byte, dataType jsonparser.ValueType, _ int, err error) {
		if itemErr != nil {
			return
		}
		if err != nil {
			itemErr = err
			return
		}
		if dataType != jsonparser.Object {
			itemErr = fmt.Errorf("%w: StringWithMarkup entry is %s", ErrMalformedPayload, dataType)
			return
		}
		raw, err := getTyped(item, jsonparser.String, "String")
		if err != nil {
			itemErr = err
			return
		}
		if raw == nil {
			texts = append(texts, "")
			return
		}
		text, err := jsonparser.ParseString(raw)
		if err != nil {
			itemErr = fmt.Errorf("%w: %v", ErrMalformedPayload, err)
			return
		}
		texts = append(texts, text)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if itemErr != nil {
		return nil, itemErr
	}
	return texts, nil
}

// getTyped returns the raw value at key, nil if the key is absent, or an
// error if the value has another type.
func getTyped(data []byte, want jsonparser.ValueType, key string) ([]byte, error) {
	value, dataType, _, err := jsonparser.Get(data, key)
	if errors.Is(err, jsonparser.KeyPathNotFoundError) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if dataType != want {
		return nil, fmt.Errorf("%w: %s is %s, expected %s", ErrMalformedPayload, key, dataType, want)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}
