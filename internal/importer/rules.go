package importer

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tbourn/perfmon-backend/internal/jalali"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if col := f.Tag.Get("col"); col != "" {
			return col
		}
		return f.Name
	})
	return v
}

// fieldErrors runs the struct tags of row and renders each failure as a
// column-level message.
func fieldErrors(row any) []string {
	err := validate.Struct(row)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(ves))
	for _, fe := range ves {
		out = append(out, describe(fe))
	}
	return out
}

func describe(fe validator.FieldError) string {
	col := fe.Field()
	switch fe.Tag() {
	case "required":
		return col + " is required"
	case "gte", "min":
		return fmt.Sprintf("%s must be >= %s", col, fe.Param())
	case "lte", "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", col, fe.Param())
		}
		return fmt.Sprintf("%s must be <= %s", col, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", col, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", col, fe.Tag())
	}
}

// rowReader decodes typed values out of a Record, collecting one structural
// error per unparsable cell.
type rowReader struct {
	rec  Record
	errs []string
}

func (r *rowReader) fail(format string, args ...any) {
	r.errs = append(r.errs, fmt.Sprintf(format, args...))
}

func (r *rowReader) str(col string) string { return r.rec.Get(col) }

func (r *rowReader) float(col string) *float64 {
	s := strings.ReplaceAll(r.rec.Get(col), "٬", "")
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		r.fail("%s must be a number", col)
		return nil
	}
	return &f
}

func (r *rowReader) uint(col string) *uint {
	s := r.rec.Get(col)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		r.fail("%s must be a positive integer", col)
		return nil
	}
	u := uint(n)
	return &u
}

func (r *rowReader) int(col string) int {
	s := r.rec.Get(col)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		r.fail("%s must be an integer", col)
		return 0
	}
	return n
}

// flag parses a 0/1 cell. Empty yields nil.
func (r *rowReader) flag(col string) *bool {
	var b bool
	switch strings.ToLower(r.rec.Get(col)) {
	case "":
		return nil
	case "1", "true":
		b = true
	case "0", "false":
		b = false
	default:
		r.fail("%s must be 0 or 1", col)
		return nil
	}
	return &b
}

func (r *rowReader) day(col string) jalali.Date {
	s := r.rec.Get(col)
	if s == "" {
		return jalali.Date{}
	}
	d, err := jalali.Parse(s)
	if err != nil {
		r.fail("%s must be a valid jalali date (YYYY/MM/DD)", col)
		return jalali.Date{}
	}
	return d
}
