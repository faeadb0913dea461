package sanctions

import "encoding/xml"

// OneOrMany collects a repeated XML element that the source emits either
// once or several times. Every occurrence is appended, so callers only ever
// deal with a slice regardless of cardinality.
type OneOrMany[T any] []T

// UnmarshalXML implements xml.Unmarshaler by appending one occurrence.
func (m *OneOrMany[T]) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var v T
	if err := d.DecodeElement(&v, &start); err != nil {
		return err
	}
	*m = append(*m, v)
	return nil
}

// Items returns the collected values as a non-nil slice.
func (m OneOrMany[T]) Items() []T {
	if m == nil {
		return []T{}
	}
	return []T(m)
}
