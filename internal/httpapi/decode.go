package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"

	"garmentledger/backend/internal/store"
)

const idempotencyHeader = "Idempotency-Key"

var (
	validate    = newValidator()
	decimalType = reflect.TypeOf(decimal.Decimal{})
)

// newValidator reports fields by their wire names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

// errBodyTooLarge is returned when MaxBytesReader cut the body short.
var errBodyTooLarge = errors.New("request body too large")

// bind reads a form-encoded or JSON body into dest, overlays path values,
// and runs struct validation. Every failure is a validation error so the
// request is rejected before any lock is taken.
func bind(r *http.Request, dest any, path map[string]string) error {
	values, err := readValues(r)
	if err != nil {
		return err
	}
	for key, val := range path {
		values[key] = val
	}
	if key := strings.TrimSpace(r.Header.Get(idempotencyHeader)); key != "" {
		if _, ok := values["idempotency_key"]; !ok {
			values["idempotency_key"] = key
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       decimalHook,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
		Result:           dest,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(values); err != nil {
		return store.Validationf("malformed request: %v", err)
	}
	return validateStruct(dest)
}

func readValues(r *http.Request) (map[string]any, error) {
	contentType := strings.ToLower(r.Header.Get("Content-Type"))
	if strings.Contains(contentType, "application/json") {
		values := map[string]any{}
		decoder := json.NewDecoder(r.Body)
		decoder.UseNumber()
		if err := decoder.Decode(&values); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, errBodyTooLarge
			}
			return nil, store.Validationf("malformed JSON body: %v", err)
		}
		return values, nil
	}

	var err error
	if strings.HasPrefix(contentType, "multipart/form-data") {
		err = r.ParseMultipartForm(1 << 20)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errBodyTooLarge
		}
		return nil, store.Validationf("malformed form body: %v", err)
	}
	return formValues(r.Form)
}

// formValues turns bracketed keys such as items[0][product_id] into nested
// maps and slices.
func formValues(form map[string][]string) (map[string]any, error) {
	root := map[string]any{}
	for key, vals := range form {
		if len(vals) == 0 {
			continue
		}
		parts, err := splitFormKey(key)
		if err != nil {
			return nil, err
		}
		if err := setPath(root, parts, vals[len(vals)-1]); err != nil {
			return nil, err
		}
	}
	out, ok := collapseIndexes(root).(map[string]any)
	if !ok {
		return nil, store.Validationf("form root must be an object")
	}
	return out, nil
}

func splitFormKey(key string) ([]string, error) {
	head, rest, found := strings.Cut(key, "[")
	if !found {
		return []string{key}, nil
	}
	parts := []string{head}
	rest = "[" + rest
	for rest != "" {
		if rest[0] != '[' {
			return nil, store.Validationf("malformed form key %q", key)
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, store.Validationf("malformed form key %q", key)
		}
		parts = append(parts, rest[1:end])
		rest = rest[end+1:]
	}
	return parts, nil
}

func setPath(node map[string]any, parts []string, val string) error {
	for i, part := range parts {
		if i == len(parts)-1 {
			if _, isGroup := node[part].(map[string]any); isGroup {
				return store.Validationf("form key %s is both a value and a group", strings.Join(parts, "."))
			}
			node[part] = val
			return nil
		}
		child, ok := node[part]
		if !ok {
			next := map[string]any{}
			node[part] = next
			node = next
			continue
		}
		next, ok := child.(map[string]any)
		if !ok {
			return store.Validationf("form key %s is both a value and a group", strings.Join(parts[:i+1], "."))
		}
		node = next
	}
	return nil
}

// collapseIndexes replaces maps whose keys are all integers with slices
// ordered by index.
func collapseIndexes(node any) any {
	m, ok := node.(map[string]any)
	if !ok {
		return node
	}
	for k, v := range m {
		m[k] = collapseIndexes(v)
	}
	if len(m) == 0 {
		return m
	}
	indexes := make([]int, 0, len(m))
	byIndex := make(map[int]any, len(m))
	for k, v := range m {
		n, err := strconv.Atoi(k)
		if err != nil || n < 0 {
			return m
		}
		indexes = append(indexes, n)
		byIndex[n] = v
	}
	sort.Ints(indexes)
	out := make([]any, 0, len(indexes))
	for _, n := range indexes {
		out = append(out, byIndex[n])
	}
	return out
}

func decimalHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case nil:
		return decimal.Zero, nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(v)
	case json.Number:
		return decimal.NewFromString(v.String())
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case decimal.Decimal:
		return v, nil
	}
	return nil, fmt.Errorf("cannot read %s as a decimal", from)
}

func validateStruct(dest any) error {
	err := validate.Struct(dest)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return store.Validationf("%v", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return store.Validationf("%s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if idx := strings.IndexByte(field, '.'); idx >= 0 {
		field = field[idx+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fe.Param())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}
