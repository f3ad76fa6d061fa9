package cart

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// SchemaV1 tags the persisted cart layout produced by MarshalSnapshot.
const SchemaV1 = "cart/v1"

// ErrCorruptSnapshot is returned when a persisted cart violates cart invariants.
var ErrCorruptSnapshot = errors.New("corrupt cart snapshot")

// UnsupportedSchemaError indicates a persisted cart written with an unknown
// schema tag.
type UnsupportedSchemaError struct {
	Schema string
}

func (e *UnsupportedSchemaError) Error() string {
	return fmt.Sprintf("unsupported cart schema %q", e.Schema)
}

// MarshalSnapshot encodes s as an ordered, versioned list of
// {productId, quantity, product} records.
func MarshalSnapshot(s *Store) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("schema", func(e *jx.Encoder) { e.Str(SchemaV1) })
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, id := range s.order {
					l := s.lines[id]
					e.Obj(func(e *jx.Encoder) {
						e.Field("productId", func(e *jx.Encoder) { e.Str(id) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("product", l.Product.Encode)
					})
				}
			})
		})
	})
	return e.Bytes()
}

// UnmarshalSnapshot decodes a cart written by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (*Store, error) {
	var (
		schema string
		lines  []Line
	)
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "schema":
			v, err := d.Str()
			schema = v
			return err
		case "lines":
			return d.Arr(func(d *jx.Decoder) error {
				l, err := decodeLine(d)
				if err != nil {
					return err
				}
				lines = append(lines, l)
				return nil
			})
		default:
			return d.Skip()
		}
	}); err != nil {
		return nil, errors.Wrap(err, "decode cart snapshot")
	}
	if schema != SchemaV1 {
		return nil, &UnsupportedSchemaError{Schema: schema}
	}

	s := NewStore()
	for _, l := range lines {
		if l.Quantity < 1 || l.Quantity > MaxQuantity {
			return nil, errors.Wrapf(ErrCorruptSnapshot, "product %s has quantity %d", l.Product.ID, l.Quantity)
		}
		if _, dup := s.lines[l.Product.ID]; dup {
			return nil, errors.Wrapf(ErrCorruptSnapshot, "duplicate product %s", l.Product.ID)
		}
		if err := l.Product.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
		}
		line := l
		s.lines[l.Product.ID] = &line
		s.order = append(s.order, l.Product.ID)
	}
	return s, nil
}

func decodeLine(d *jx.Decoder) (Line, error) {
	var (
		l         Line
		productID string
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			productID, err = d.Str()
		case "quantity":
			l.Quantity, err = d.Int()
		case "product":
			err = l.Product.Decode(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return Line{}, err
	}
	if l.Product.ID == "" {
		l.Product.ID = productID
	}
	if l.Product.ID != productID {
		return Line{}, errors.Wrapf(ErrCorruptSnapshot, "line key %s does not match product %s", productID, l.Product.ID)
	}
	return l, nil
}
