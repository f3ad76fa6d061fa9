package sanity

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
)

// decodeResult calls fn with the decoder positioned at the "result" field of
// a query response.
func decodeResult(body []byte, fn func(d *jx.Decoder) error) error {
	found := false
	err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "result" {
			return d.Skip()
		}
		found = true
		return fn(d)
	})
	if err != nil {
		return err
	}
	if !found {
		return errors.New("response has no result")
	}
	return nil
}

func decodeProducts(body []byte) ([]product.Product, error) {
	products := []product.Product{}
	err := decodeResult(body, func(d *jx.Decoder) error {
		if d.Next() == jx.Null {
			return d.Null()
		}
		return d.Arr(func(d *jx.Decoder) error {
			p, err := decodeProduct(d)
			if err != nil {
				return err
			}
			products = append(products, p)
			return nil
		})
	})
	return products, err
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "_id":
			p.ID, err = optStr(d)
		case "name":
			p.Name, err = optStr(d)
		case "description":
			p.Description, err = optStr(d)
		case "price":
			p.Price, err = optDecimal(d)
		case "image_url":
			p.ImageURL, err = optStr(d)
		case "dimensions":
			p.Dimensions, err = decodeDimensions(d)
		case "tags":
			p.Tags, err = stringList(d)
		case "features":
			p.Features, err = stringList(d)
		case "category":
			p.Category, err = decodeCategory(d)
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %s", key)
		}
		return nil
	})
	return p, err
}

func decodeDimensions(d *jx.Decoder) (*product.Dimensions, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var dims product.Dimensions
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "height":
			dims.Height, err = optStr(d)
		case "width":
			dims.Width, err = optStr(d)
		case "depth":
			dims.Depth, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return &dims, err
}

func decodeCategory(d *jx.Decoder) (*product.Category, error) {
	switch d.Next() {
	case jx.Null:
		return nil, d.Null()
	case jx.String:
		// Unexpanded string categories carry only a name.
		name, err := d.Str()
		return &product.Category{ID: name, Name: name}, err
	}
	var c product.Category
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "_id":
			c.ID, err = optStr(d)
		case "name":
			c.Name, err = optStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	return &c, err
}

// stringList accepts an array of strings, a single string, or null.
func stringList(d *jx.Decoder) ([]string, error) {
	switch d.Next() {
	case jx.Null:
		return nil, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
	out := []string{}
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := optStr(d)
		if err != nil {
			return err
		}
		if s != "" {
			out = append(out, s)
		}
		return nil
	})
	return out, err
}

func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func optDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	if d.Next() == jx.Null {
		return decimal.Zero, d.Null()
	}
	n, err := d.Num()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(n.String())
}
