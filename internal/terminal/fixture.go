package terminal

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Fixture answers from a YAML file. It is used to replay captured terminal
// responses in tests and demos:
//
//	reference:
//	  "XS0000000001 Corp": {CRNCY: EUR, YAS_YLD_FLAG: YTC}
//	  "EURUSD Curncy": {PX_LAST: "1.08"}
//	bulk:
//	  DES_CASH_FLOW:
//	    "XS0000000001 Corp":
//	      - {payment_date: "2025-06-30", coupon_amount: "25", principal_amount: "0"}
type Fixture struct {
	Ref  map[string]map[string]string              `yaml:"reference"`
	Rows map[string]map[string][]map[string]string `yaml:"bulk"`
}

func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read terminal fixture: %w", err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse terminal fixture %s: %w", path, err)
	}
	return &f, nil
}

func (f *Fixture) Reference(ctx context.Context, securities, fields []string) (map[string]map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]map[string]string, len(securities))
	for _, s := range securities {
		known, ok := f.Ref[s]
		if !ok {
			continue
		}
		vals := make(map[string]string, len(fields))
		for _, fld := range fields {
			if v, ok := known[fld]; ok {
				vals[fld] = v
			}
		}
		out[s] = vals
	}
	return out, nil
}

func (f *Fixture) Bulk(ctx context.Context, securities []string, field string, _ map[string]string) (map[string][]map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string][]map[string]string, len(securities))
	for _, s := range securities {
		if rows, ok := f.Rows[field][s]; ok {
			out[s] = rows
		}
	}
	return out, nil
}
