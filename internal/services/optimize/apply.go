package optimize

import (
	"strings"

	"hfttools/internal/domain/models"
	"hfttools/pkg/adapter"
)

// CheckPaths verifies that every parameter path lands inside the strategy:
// all intermediate keys must exist as objects. The leaf may be absent, in
// which case the strategy default is being tuned.
func CheckPaths(strategy map[string]interface{}, space models.SearchSpace) error {
	for _, name := range Names(space) {
		parts := strings.Split(name, ".")
		cur := strategy
		for i, part := range parts[:len(parts)-1] {
			next, ok := cur[part].(map[string]interface{})
			if !ok {
				at := strings.Join(parts[:i+1], ".")
				return adapter.ValidationFailedf("parameter %q: strategy has no object at %q", name, at).WithField("searchSpace." + name)
			}
			cur = next
		}
		if leaf, ok := cur[parts[len(parts)-1]]; ok {
			if _, isObj := leaf.(map[string]interface{}); isObj {
				return adapter.ValidationFailedf("parameter %q replaces an object", name).WithField("searchSpace." + name)
			}
		}
	}
	return nil
}

// Apply returns a deep copy of strategy with params set at their dotted
// paths. Missing intermediate objects are created.
func Apply(strategy map[string]interface{}, params models.Params) map[string]interface{} {
	out := deepCopy(strategy).(map[string]interface{})
	for name, v := range params {
		parts := strings.Split(name, ".")
		cur := out
		for _, part := range parts[:len(parts)-1] {
			next, ok := cur[part].(map[string]interface{})
			if !ok {
				next = make(map[string]interface{})
				cur[part] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = v
	}
	return out
}

func deepCopy(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(x))
		for k, e := range x {
			m[k] = deepCopy(e)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(x))
		for i, e := range x {
			s[i] = deepCopy(e)
		}
		return s
	default:
		return x
	}
}
