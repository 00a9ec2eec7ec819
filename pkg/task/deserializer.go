package task

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
)

type Kind string

const (
	KindObject Kind = "object"
	KindString Kind = "string"
	KindNumber Kind = "f64"
	KindBool   Kind = "bool"
)

var ErrNotFound = errors.New("value not found")

// Deserializer reads typed values out of a protected data document.
type Deserializer interface {
	GetValue(path string, kind Kind) (interface{}, error)
}

// DocumentDeserializer serves values from a JSON document. Paths are dot
// separated; a flattened key equal to the whole path wins over traversal.
type DocumentDeserializer struct {
	doc map[string]interface{}
}

func NewDocumentDeserializer(raw []byte) (*DocumentDeserializer, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "protected data is not a JSON document")
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	return &DocumentDeserializer{doc: doc}, nil
}

func OpenDocument(path string) (*DocumentDeserializer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read protected data")
	}
	return NewDocumentDeserializer(raw)
}

func (d *DocumentDeserializer) GetValue(path string, kind Kind) (interface{}, error) {
	v, ok := d.lookup(path)
	if !ok {
		return nil, errors.Wrap(ErrNotFound, path)
	}

	switch kind {
	case KindObject:
		if m, ok := v.(map[string]interface{}); ok {
			return m, nil
		}
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindNumber:
		if f, ok := v.(float64); ok {
			return f, nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	default:
		return nil, errors.Errorf("unsupported kind %q", kind)
	}
	return nil, errors.Errorf("%s is not of kind %s", path, kind)
}

func (d *DocumentDeserializer) lookup(path string) (interface{}, bool) {
	if v, ok := d.doc[path]; ok {
		return v, true
	}

	var cur interface{} = d.doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}
