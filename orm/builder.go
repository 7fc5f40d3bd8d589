package orm

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// TagName is the struct tag naming a model member
const TagName = "orm"

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"}

// ObjectFactory creates empty models by domain key
type ObjectFactory struct {
	mu    sync.RWMutex
	ctors map[string]func() Model
}

func NewObjectFactory() *ObjectFactory {
	return &ObjectFactory{ctors: make(map[string]func() Model)}
}

// Register adds the constructor for key
func (f *ObjectFactory) Register(key string, ctor func() Model) error {
	if key == "" || ctor == nil {
		return fmt.Errorf("object factory: key and constructor are required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ctors[key]; ok {
		return fmt.Errorf("object factory: %s already registered", key)
	}
	f.ctors[key] = ctor
	return nil
}

// Create returns a new model for key
func (f *ObjectFactory) Create(key string) (Model, error) {
	f.mu.RLock()
	ctor, ok := f.ctors[key]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDomain, key)
	}
	return ctor(), nil
}

func (f *ObjectFactory) Exists(key string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.ctors[key]
	return ok
}

// Keys returns the registered domain keys in sorted order
func (f *ObjectFactory) Keys() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	keys := make([]string, 0, len(f.ctors))
	for k := range f.ctors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DataBuilder moves data between rows and models
type DataBuilder struct {
	objects *ObjectFactory
}

func NewDataBuilder(objects *ObjectFactory) *DataBuilder {
	if objects == nil {
		objects = NewObjectFactory()
	}
	return &DataBuilder{objects: objects}
}

func (b *DataBuilder) Objects() *ObjectFactory {
	return b.objects
}

// BuildModel creates the model for key and fills it from a column keyed
// row. Columns the mapper does not know are ignored. The model is clean.
func (b *DataBuilder) BuildModel(key string, row map[string]interface{}, mapper *Mapper) (Model, error) {
	model, err := b.objects.Create(key)
	if err != nil {
		return nil, err
	}

	members := make(map[string]interface{}, len(row))
	for column, value := range row {
		if member, ok := mapper.MapMember(column); ok {
			members[member] = value
		}
	}
	if err := b.Populate(model, members); err != nil {
		return nil, fmt.Errorf("build %s: %w", key, err)
	}
	model.ModelState().MarkClean()
	return model, nil
}

// Populate decodes member keyed values into model. Values are converted
// weakly, so "42" fills an int and 1 fills a bool.
func (b *DataBuilder) Populate(model Model, members map[string]interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          TagName,
		WeaklyTypedInput: true,
		DecodeHook:       stringToTimeHook,
		Result:           model,
	})
	if err != nil {
		return err
	}
	return dec.Decode(members)
}

// BuildArray returns the model as a column keyed map of the mapped members
func (b *DataBuilder) BuildArray(model Model, mapper *Mapper) (map[string]interface{}, error) {
	values, err := MemberValues(model)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(values))
	for member, value := range values {
		if column, ok := mapper.MapColumn(member); ok {
			out[column] = value
		}
	}
	return out, nil
}

// MemberValues reads every orm tagged field of model. Nil pointers give nil.
func MemberValues(model interface{}) (map[string]interface{}, error) {
	v := reflect.ValueOf(model)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, fmt.Errorf("nil model")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("model must be a struct, got %s", v.Kind())
	}

	t := v.Type()
	out := make(map[string]interface{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get(TagName)
		if tag == "" || tag == "-" || !field.IsExported() {
			continue
		}
		member, _, _ := strings.Cut(tag, ",")

		fv := v.Field(i)
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				out[member] = nil
				continue
			}
			fv = fv.Elem()
		}
		out[member] = fv.Interface()
	}
	return out, nil
}

func stringToTimeHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(time.Time{}) {
		return data, nil
	}
	s := data.(string)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("can not parse %q as time", s)
}
