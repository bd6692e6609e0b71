package parser

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Jeffail/gabs/v2"
)

// ParseDocument decodes one source body and returns its item records.
// Numbers are kept as json.Number so large item identifiers survive intact.
func ParseDocument(body []byte) ([]*gabs.Container, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	doc, err := gabs.ParseJSONDecoder(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if !doc.Exists("Items") {
		return nil, ErrMissingItems
	}

	raw := doc.Search("Items").Data()
	list, ok := raw.([]interface{})
	if !ok {
		return nil, FieldTypeError{Field: "Items", Value: raw}
	}

	records := make([]*gabs.Container, 0, len(list))
	for _, entry := range list {
		records = append(records, gabs.Wrap(entry))
	}
	return records, nil
}
