package outbox

import (
	"fmt"
	"reflect"
	"strconv"
)

// Conventional accessor and field names probed when no IDExtractor is
// registered, in priority order.
var (
	idMethodNames = []string{"GetID", "GetEntityID", "GetPrimaryKey"}
	idFieldNames  = []string{"ID", "EntityID", "PrimaryKey"}
)

// idPlan is the cached per-type strategy for locating the aggregate
// identifier.
type idPlan struct {
	method     string
	viaPointer bool
	field      []int
}

func (p idPlan) valid() bool {
	return p.method != "" || p.field != nil
}

// aggregateID resolves the identifier for a tracked aggregate: the
// registered extractor first, then cached reflective probing of accessor
// methods and fields. The result is stringified; an empty result is an
// error.
func (r *Registry) aggregateID(reg *registration, aggregate any) (string, error) {
	if reg.extractID != nil {
		id, err := reg.extractID(aggregate)
		if err != nil {
			return "", fmt.Errorf("id extractor: %w", err)
		}
		if id == "" {
			return "", ErrAggregateIDRequired
		}

		return id, nil
	}

	plan := r.idPlanFor(reg.goType)
	if !plan.valid() {
		return "", ErrAggregateIDRequired
	}

	value, err := plan.extract(aggregate)
	if err != nil {
		return "", err
	}
	id, err := stringifyID(value)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrAggregateIDRequired
	}

	return id, nil
}

func (r *Registry) idPlanFor(t reflect.Type) idPlan {
	if cached, ok := r.idPlans.Load(t); ok {
		return cached.(idPlan)
	}

	plan := resolveIDPlan(t)
	actual, _ := r.idPlans.LoadOrStore(t, plan)

	return actual.(idPlan)
}

func resolveIDPlan(t reflect.Type) idPlan {
	for _, name := range idMethodNames {
		if method, ok := t.MethodByName(name); ok && isIDAccessor(method) {
			return idPlan{method: name}
		}
	}
	ptr := reflect.PointerTo(t)
	for _, name := range idMethodNames {
		if method, ok := ptr.MethodByName(name); ok && isIDAccessor(method) {
			return idPlan{method: name, viaPointer: true}
		}
	}
	for _, name := range idFieldNames {
		if field, ok := t.FieldByName(name); ok && field.IsExported() {
			return idPlan{field: field.Index}
		}
	}

	return idPlan{}
}

// isIDAccessor accepts niladic single-result methods; the receiver is the
// sole input.
func isIDAccessor(method reflect.Method) bool {
	return method.Type.NumIn() == 1 && method.Type.NumOut() == 1
}

func (p idPlan) extract(aggregate any) (any, error) {
	v := reflect.ValueOf(aggregate)

	if p.method != "" {
		if p.viaPointer && v.Kind() != reflect.Pointer {
			ptr := reflect.New(v.Type())
			ptr.Elem().Set(v)
			v = ptr
		}
		m := v.MethodByName(p.method)
		if !m.IsValid() {
			return nil, ErrAggregateIDRequired
		}

		return m.Call(nil)[0].Interface(), nil
	}

	v = reflect.Indirect(v)
	if v.Kind() != reflect.Struct {
		return nil, ErrAggregateIDRequired
	}

	return v.FieldByIndex(p.field).Interface(), nil
}

func stringifyID(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", ErrAggregateIDRequired
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	default:
		return fmt.Sprint(v), nil
	}
}
