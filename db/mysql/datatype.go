package mysql

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// Column kinds
const (
	KindTinyInt   = "tinyint"
	KindSmallInt  = "smallint"
	KindMediumInt = "mediumint"
	KindInt       = "int"
	KindBigInt    = "bigint"
	KindVarChar   = "varchar"
	KindChar      = "char"
	KindText      = "text"
	KindDate      = "date"
	KindDateTime  = "datetime"
	KindDecimal   = "decimal"
)

const (
	AttrUnsigned = "unsigned"
	AttrNotNull  = "not null"
	AttrZeroFill = "zerofill"

	textMaxBytes   = 65535
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

type intRange struct {
	min int64
	max uint64
}

var intRanges = map[string][2]intRange{
	// signed, unsigned
	KindTinyInt:   {{math.MinInt8, math.MaxInt8}, {0, math.MaxUint8}},
	KindSmallInt:  {{math.MinInt16, math.MaxInt16}, {0, math.MaxUint16}},
	KindMediumInt: {{-8388608, 8388607}, {0, 16777215}},
	KindInt:       {{math.MinInt32, math.MaxInt32}, {0, math.MaxUint32}},
	KindBigInt:    {{math.MinInt64, math.MaxInt64}, {0, math.MaxUint64}},
}

// DataType is a MySQL column definition
type DataType struct {
	Kind   string
	Length int
	Scale  int
	Attrs  []string
}

func TinyInt(attrs string) DataType   { return newType(KindTinyInt, 0, 0, attrs) }
func SmallInt(attrs string) DataType  { return newType(KindSmallInt, 0, 0, attrs) }
func MediumInt(attrs string) DataType { return newType(KindMediumInt, 0, 0, attrs) }
func Int(attrs string) DataType       { return newType(KindInt, 0, 0, attrs) }
func BigInt(attrs string) DataType    { return newType(KindBigInt, 0, 0, attrs) }
func Text(attrs string) DataType      { return newType(KindText, 0, 0, attrs) }
func Date(attrs string) DataType      { return newType(KindDate, 0, 0, attrs) }
func DateTime(attrs string) DataType  { return newType(KindDateTime, 0, 0, attrs) }

func VarChar(length int, attrs string) DataType { return newType(KindVarChar, length, 0, attrs) }
func Char(length int, attrs string) DataType    { return newType(KindChar, length, 0, attrs) }

func Decimal(precision, scale int, attrs string) DataType {
	return newType(KindDecimal, precision, scale, attrs)
}

func newType(kind string, length, scale int, attrs string) DataType {
	return DataType{Kind: kind, Length: length, Scale: scale, Attrs: ParseAttrs(attrs)}
}

// ParseAttrs splits a space delimited attribute string. "not null" is kept
// as a single attribute.
func ParseAttrs(attrs string) []string {
	fields := strings.Fields(strings.ToLower(attrs))
	out := make([]string, 0, len(fields))
	for i := 0; i < len(fields); i++ {
		if fields[i] == "not" && i+1 < len(fields) && fields[i+1] == "null" {
			out = append(out, AttrNotNull)
			i++
			continue
		}
		out = append(out, fields[i])
	}
	return out
}

// HasAttr reports whether the attribute is set
func (d DataType) HasAttr(attr string) bool {
	for _, a := range d.Attrs {
		if a == attr {
			return true
		}
	}
	return false
}

func (d DataType) IsUnsigned() bool {
	return d.HasAttr(AttrUnsigned)
}

// SQL renders the column type, e.g. "varchar(64) not null"
func (d DataType) SQL() string {
	var b strings.Builder
	b.WriteString(d.Kind)
	switch d.Kind {
	case KindVarChar, KindChar:
		fmt.Fprintf(&b, "(%d)", d.Length)
	case KindDecimal:
		fmt.Fprintf(&b, "(%d,%d)", d.Length, d.Scale)
	}
	for _, a := range d.Attrs {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	return b.String()
}

// ValidatorName is the name the type's validation is registered under
func (d DataType) ValidatorName() string {
	return "datatype-" + d.Kind
}

// ValidatorTag is the full validator tag including the type parameters
func (d DataType) ValidatorTag() string {
	switch d.Kind {
	case KindVarChar, KindChar:
		return fmt.Sprintf("%s=%d", d.ValidatorName(), d.Length)
	case KindDecimal:
		return fmt.Sprintf("%s=%d_%d", d.ValidatorName(), d.Length, d.Scale)
	}
	if _, ok := intRanges[d.Kind]; ok && d.IsUnsigned() {
		return d.ValidatorName() + "=" + AttrUnsigned
	}
	return d.ValidatorName()
}

// Validate checks value against the type with v. A nil value passes unless
// the column is not null.
func (d DataType) Validate(v *validator.Validate, value interface{}) error {
	if value == nil {
		if d.HasAttr(AttrNotNull) {
			return fmt.Errorf("%s: value can not be null", d.SQL())
		}
		return nil
	}
	return v.Var(value, d.ValidatorTag())
}

// NewValidator returns a validator with every data type registered
func NewValidator() (*validator.Validate, error) {
	v := validator.New()
	if err := RegisterValidators(v); err != nil {
		return nil, err
	}
	return v, nil
}

// RegisterValidators registers the data type validations on v
func RegisterValidators(v *validator.Validate) error {
	for kind := range intRanges {
		if err := v.RegisterValidation("datatype-"+kind, func(fl validator.FieldLevel) bool {
			return validInt(kind, fl.Field(), fl.Param() == AttrUnsigned)
		}); err != nil {
			return err
		}
	}

	fns := map[string]validator.Func{
		KindVarChar:  validLength,
		KindChar:     validLength,
		KindText:     validText,
		KindDate:     func(fl validator.FieldLevel) bool { return validTime(fl.Field(), dateLayout) },
		KindDateTime: func(fl validator.FieldLevel) bool { return validTime(fl.Field(), dateTimeLayout) },
		KindDecimal:  validDecimal,
	}
	for kind, fn := range fns {
		if err := v.RegisterValidation("datatype-"+kind, fn); err != nil {
			return err
		}
	}
	return nil
}

func validInt(kind string, field reflect.Value, unsigned bool) bool {
	bounds := intRanges[kind][0]
	if unsigned {
		bounds = intRanges[kind][1]
	}

	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := field.Int()
		if n < 0 {
			return n >= bounds.min
		}
		return uint64(n) <= bounds.max
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return field.Uint() <= bounds.max
	case reflect.String:
		s := strings.TrimSpace(field.String())
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u <= bounds.max
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n >= bounds.min
		}
	}
	return false
}

func validLength(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	max, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	return utf8.RuneCountInString(fl.Field().String()) <= max
}

func validText(fl validator.FieldLevel) bool {
	return fl.Field().Kind() == reflect.String && len(fl.Field().String()) <= textMaxBytes
}

func validTime(field reflect.Value, layout string) bool {
	if t, ok := field.Interface().(time.Time); ok {
		return !t.IsZero()
	}
	if field.Kind() != reflect.String {
		return false
	}
	_, err := time.Parse(layout, field.String())
	return err == nil
}

func validDecimal(fl validator.FieldLevel) bool {
	p, sc, ok := strings.Cut(fl.Param(), "_")
	if !ok {
		return false
	}
	precision, err := strconv.Atoi(p)
	if err != nil {
		return false
	}
	scale, err := strconv.Atoi(sc)
	if err != nil {
		return false
	}

	var s string
	field := fl.Field()
	switch field.Kind() {
	case reflect.String:
		s = strings.TrimSpace(field.String())
	case reflect.Float32, reflect.Float64:
		s = strconv.FormatFloat(field.Float(), 'f', -1, 64)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		s = strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		s = strconv.FormatUint(field.Uint(), 10)
	default:
		return false
	}

	s = strings.TrimLeft(s, "+-")
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return false
	}
	for _, part := range []string{whole, frac} {
		for _, c := range part {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	whole = strings.TrimLeft(whole, "0")
	return len(whole) <= precision-scale && len(frac) <= scale
}
