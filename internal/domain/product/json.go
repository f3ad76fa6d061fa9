package product

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Encode writes p as a JSON object. Nil dimensions, tags, features and
// category are omitted.
func (p Product) Encode(e *jx.Encoder) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
		e.Field("price", func(e *jx.Encoder) { e.Num(jx.Num(p.Price.String())) })
		e.Field("imageUrl", func(e *jx.Encoder) { e.Str(p.ImageURL) })
		if d := p.Dimensions; d != nil {
			e.Field("dimensions", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("height", func(e *jx.Encoder) { e.Str(d.Height) })
					e.Field("width", func(e *jx.Encoder) { e.Str(d.Width) })
					e.Field("depth", func(e *jx.Encoder) { e.Str(d.Depth) })
				})
			})
		}
		if p.Tags != nil {
			e.Field("tags", func(e *jx.Encoder) { encodeStrings(e, p.Tags) })
		}
		if p.Features != nil {
			e.Field("features", func(e *jx.Encoder) { encodeStrings(e, p.Features) })
		}
		if c := p.Category; c != nil {
			e.Field("category", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("id", func(e *jx.Encoder) { e.Str(c.ID) })
					e.Field("name", func(e *jx.Encoder) { e.Str(c.Name) })
				})
			})
		}
	})
}

// Decode reads a JSON object written by Encode into p. Price may be a JSON
// number or a decimal string. Unknown fields are skipped.
func (p *Product) Decode(d *jx.Decoder) error {
	if p == nil {
		return errors.New("decode Product: nil receiver")
	}
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "description":
			p.Description, err = d.Str()
		case "price":
			p.Price, err = decodePrice(d)
		case "imageUrl":
			p.ImageURL, err = d.Str()
		case "dimensions":
			p.Dimensions = &Dimensions{}
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "height":
					p.Dimensions.Height, err = d.Str()
				case "width":
					p.Dimensions.Width, err = d.Str()
				case "depth":
					p.Dimensions.Depth, err = d.Str()
				default:
					err = d.Skip()
				}
				return err
			})
		case "tags":
			p.Tags, err = decodeStrings(d)
		case "features":
			p.Features, err = decodeStrings(d)
		case "category":
			p.Category = &Category{}
			err = d.Obj(func(d *jx.Decoder, key string) error {
				var err error
				switch key {
				case "id":
					p.Category.ID, err = d.Str()
				case "name":
					p.Category.Name, err = d.Str()
				default:
					err = d.Skip()
				}
				return err
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "decode field %q", key)
		}
		return nil
	})
}

func decodePrice(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.String {
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromString(n.String())
}

func encodeStrings(e *jx.Encoder, v []string) {
	e.Arr(func(e *jx.Encoder) {
		for _, s := range v {
			e.Str(s)
		}
	})
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	out := []string{}
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}
