package shape

import (
	"strings"

	"github.com/dshills/coachgraph/graph"
	"github.com/mitchellh/mapstructure"
)

// textShape names rejections from the free-text validator.
const textShape = "text"

// Text accepts any reply that is not blank and returns it trimmed.
func Text() graph.Validator[string] {
	return graph.ValidatorFunc[string](func(candidate string) (string, error) {
		trimmed := strings.TrimSpace(candidate)
		if trimmed == "" {
			return "", &Rejection{Shape: textShape, Reason: "reply is empty"}
		}
		return trimmed, nil
	})
}

// Struct checks a reply against s and decodes it into T.
//
// T's fields are matched through their `json` tags. A decode failure, which
// can only mean T and s disagree, is reported as a Rejection so that it is
// retried like any other bad reply.
func Struct[T any](s Shape) graph.Validator[T] {
	return graph.ValidatorFunc[T](func(candidate string) (T, error) {
		var out T
		values, err := s.Check(candidate)
		if err != nil {
			return out, err
		}
		if err := Decode(values, &out); err != nil {
			return out, &Rejection{Shape: s.Name, Reason: "decode: " + err.Error()}
		}
		return out, nil
	})
}

// Decode copies accepted values into the struct pointed to by out.
func Decode(values Values, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]interface{}(values))
}
