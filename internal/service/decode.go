package service

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mdouchement/chestsync/internal/cserror"
	"github.com/mdouchement/chestsync/internal/model"
	"github.com/pkg/errors"
	"github.com/valyala/fastjson"
)

var parsers fastjson.ParserPool

// DecodeEvent decodes a container event.
//
// Besides the canonical payload, it accepts the field aliases sent by the
// game mod: uuid/UUID, username/Username, Container.pos|Pos|position,
// items as a list of {slot,id,count} or a slot map, Signs and ts.
func DecodeEvent(data []byte) (Event, error) {
	p := parsers.Get()
	defer parsers.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return Event{}, cserror.Validation("Malformed event.")
	}
	return decodeEvent(v)
}

// DecodeBatch decodes a list of events, either `{"events":[...]}` or a bare array.
// The returned errors are aligned with the events, a nil error means the event is valid JSON-wise.
func DecodeBatch(data []byte) ([]Event, []error, error) {
	p := parsers.Get()
	defer parsers.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, nil, cserror.Validation("Malformed batch.")
	}
	if v.Type() == fastjson.TypeObject {
		v = v.Get("events")
	}
	if v == nil || v.Type() != fastjson.TypeArray {
		return nil, nil, cserror.Validation("Missing events.")
	}

	values, _ := v.Array()
	if len(values) > MaxBatchSize {
		return nil, nil, cserror.Validation("Too many events, at most " + strconv.Itoa(MaxBatchSize) + " are accepted.")
	}

	events := make([]Event, len(values))
	errs := make([]error, len(values))
	for i, value := range values {
		events[i], errs[i] = decodeEvent(value)
	}
	return events, errs, nil
}

func decodeEvent(v *fastjson.Value) (Event, error) {
	var e Event
	if v.Type() != fastjson.TypeObject {
		return e, cserror.Validation("Event must be an object.")
	}

	e.Actor = decodeActor(v)

	container := first(v, "container", "Container")
	if container != nil && container.Type() != fastjson.TypeObject {
		return e, cserror.Validation("Container must be an object.")
	}

	var err error
	e.Coordinate, err = decodeCoordinate(v, container)
	if err != nil {
		return e, cserror.Validation("Invalid coordinate: " + err.Error() + ".")
	}

	items := first(v, "items", "Items")
	if items == nil && container != nil {
		items = first(container, "items", "Items")
	}
	if items != nil && items.Type() != fastjson.TypeNull {
		if e.Items, err = decodeItems(items); err != nil {
			return e, cserror.Validation("Invalid items: " + err.Error() + ".")
		}
	}

	signs := first(v, "signs", "Signs")
	if signs == nil && container != nil {
		signs = first(container, "signs", "Signs")
	}
	e.Signs = decodeSigns(signs)

	if e.Timestamp, err = decodeTimestamp(first(v, "timestamp", "ts")); err != nil {
		return e, cserror.Validation("Invalid timestamp: " + err.Error() + ".")
	}

	return e, nil
}

func decodeActor(v *fastjson.Value) model.Actor {
	if a := v.Get("actor"); a != nil && a.Type() == fastjson.TypeObject {
		return model.Actor{
			ID:   str(a, "id"),
			Name: str(a, "name"),
		}
	}

	return model.Actor{
		ID:   strings.ToLower(str(v, "uuid", "UUID")),
		Name: str(v, "username", "Username"),
	}
}

func decodeCoordinate(v, container *fastjson.Value) (*model.Coordinate, error) {
	var err error

	if c := v.Get("coordinate"); c != nil && c.Type() != fastjson.TypeNull {
		if c.Type() != fastjson.TypeObject {
			return nil, errors.New("must be an object")
		}

		coord := &model.Coordinate{World: str(c, "world")}
		if coord.X, err = integer(c.Get("x"), "x"); err != nil {
			return nil, err
		}
		if coord.Y, err = integer(c.Get("y"), "y"); err != nil {
			return nil, err
		}
		if coord.Z, err = integer(c.Get("z"), "z"); err != nil {
			return nil, err
		}
		return coord, nil
	}

	if container == nil {
		return nil, nil
	}

	pos := first(container, "pos", "Pos", "position")
	if pos == nil {
		return nil, nil
	}
	values, err := pos.Array()
	if err != nil || len(values) != 3 {
		return nil, errors.New("position must be an array of 3 numbers")
	}

	coord := &model.Coordinate{World: str(container, "world")}
	if coord.World == "" {
		coord.World = str(v, "world")
	}
	if coord.X, err = integer(values[0], "x"); err != nil {
		return nil, err
	}
	if coord.Y, err = integer(values[1], "y"); err != nil {
		return nil, err
	}
	if coord.Z, err = integer(values[2], "z"); err != nil {
		return nil, err
	}
	return coord, nil
}

func decodeItems(v *fastjson.Value) (model.Items, error) {
	items := model.Items{}

	switch v.Type() {
	case fastjson.TypeObject:
		var err error
		o, _ := v.Object()
		o.Visit(func(key []byte, value *fastjson.Value) {
			if err != nil {
				return
			}

			slot, serr := strconv.Atoi(strings.TrimPrefix(string(key), "slot_"))
			if serr != nil {
				err = errors.Errorf("invalid slot %q", key)
				return
			}
			items[slot], err = decodeItem(value, slot)
		})
		return items, err
	case fastjson.TypeArray:
		values, _ := v.Array()
		for i, value := range values {
			slot := i
			if s := first(value, "slot", "Slot"); s != nil {
				var err error
				if slot, err = integer(s, "slot"); err != nil {
					return nil, err
				}
			}
			if _, ok := items[slot]; ok {
				return nil, errors.Errorf("duplicate slot %d", slot)
			}

			item, err := decodeItem(value, slot)
			if err != nil {
				return nil, err
			}
			items[slot] = item
		}
		return items, nil
	default:
		return nil, errors.New("must be an object or an array")
	}
}

func decodeItem(v *fastjson.Value, slot int) (model.Item, error) {
	if v.Type() != fastjson.TypeObject {
		return model.Item{}, errors.Errorf("slot %d: must be an object", slot)
	}

	item := model.Item{
		ID:    str(v, "id", "Id", "item"),
		Name:  str(v, "name", "display_name", "displayName"),
		Count: 1,
	}

	if c := first(v, "count", "Count"); c != nil {
		var err error
		if item.Count, err = integer(c, "count"); err != nil {
			return item, errors.Wrapf(err, "slot %d", slot)
		}
	}
	return item, nil
}

func decodeSigns(v *fastjson.Value) []string {
	if v == nil || v.Type() != fastjson.TypeArray {
		return nil
	}

	values, _ := v.Array()
	signs := make([]string, 0, len(values))
	for _, value := range values {
		if value.Type() == fastjson.TypeString {
			signs = append(signs, string(value.GetStringBytes()))
			continue
		}
		signs = append(signs, value.String())
	}
	return signs
}

func decodeTimestamp(v *fastjson.Value) (time.Time, error) {
	if v == nil {
		return time.Time{}, nil
	}

	switch v.Type() {
	case fastjson.TypeNull:
		return time.Time{}, nil
	case fastjson.TypeString:
		t, err := dateparse.ParseIn(string(v.GetStringBytes()), time.UTC)
		return t.UTC(), err
	case fastjson.TypeNumber:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}, err
		}
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil // JavaScript-like timestamp.
		}
		return time.Unix(n, 0).UTC(), nil
	default:
		return time.Time{}, errors.New("must be a string or a number")
	}
}

func integer(v *fastjson.Value, name string) (int, error) {
	if v == nil || v.Type() == fastjson.TypeNull {
		return 0, errors.Errorf("missing %s", name)
	}
	if v.Type() != fastjson.TypeNumber {
		return 0, errors.Errorf("%s must be a number", name)
	}

	f, err := v.Float64()
	if err != nil {
		return 0, errors.Wrap(err, name)
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, errors.Errorf("%s must be an integer", name)
	}
	return int(f), nil
}

func first(v *fastjson.Value, keys ...string) *fastjson.Value {
	for _, key := range keys {
		if value := v.Get(key); value != nil {
			return value
		}
	}
	return nil
}

func str(v *fastjson.Value, keys ...string) string {
	if value := first(v, keys...); value != nil && value.Type() == fastjson.TypeString {
		return string(value.GetStringBytes())
	}
	return ""
}
