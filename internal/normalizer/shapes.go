package normalizer

import (
	"errors"

	"github.com/mitchellh/mapstructure"

	"github.com/denkuservices/denku-mvp-sub000/internal/model"
)

// best-effort extraction also looks one level into these wrappers
var unknownWrapperKeys = []string{"data", "payload", "event", "body"}

// DetectShape classifies a decoded webhook body.
func DetectShape(root map[string]interface{}) model.Shape {
	if msg, ok := root["message"].(map[string]interface{}); ok && len(msg) > 0 {
		return model.ShapeWrapped
	}
	if _, ok := root["type"].(string); ok {
		return model.ShapeUnwrapped
	}
	if _, ok := root["call"].(map[string]interface{}); ok {
		return model.ShapeUnwrapped
	}
	if _, ok := root["call_id"]; ok {
		return model.ShapeLegacy
	}
	if _, ok := root["id"]; ok && hasAnyKey(root, "from", "to", "status", "transcript") {
		return model.ShapeLegacy
	}
	return model.ShapeUnknown
}

// decoded holds the typed views of one payload. Top-level aliases are always
// read through legacy, whatever the shape.
type decoded struct {
	shape  model.Shape
	msg    model.ProviderMessage
	legacy model.LegacyPayload
	err    error
}

func decodeShape(shape model.Shape, root map[string]interface{}) decoded {
	switch shape {
	case model.ShapeWrapped:
		return decodeWrapped(root)
	case model.ShapeUnwrapped:
		return decodeUnwrapped(root)
	case model.ShapeLegacy:
		return decodeLegacy(root)
	default:
		return decodeUnknown(root)
	}
}

func decodeWrapped(root map[string]interface{}) decoded {
	d := decoded{shape: model.ShapeWrapped}
	var env model.WebhookEnvelope
	errEnv := weakDecode(root, &env)
	if env.Message != nil {
		d.msg = *env.Message
	}
	d.err = errors.Join(errEnv, weakDecode(root, &d.legacy))
	return d
}

func decodeUnwrapped(root map[string]interface{}) decoded {
	d := decoded{shape: model.ShapeUnwrapped}
	d.err = errors.Join(weakDecode(root, &d.msg), weakDecode(root, &d.legacy))
	return d
}

func decodeLegacy(root map[string]interface{}) decoded {
	d := decoded{shape: model.ShapeLegacy}
	d.err = weakDecode(root, &d.legacy)
	return d
}

func decodeUnknown(root map[string]interface{}) decoded {
	d := decoded{shape: model.ShapeUnknown}
	errs := []error{weakDecode(root, &d.msg), weakDecode(root, &d.legacy)}
	if d.msg.Call == nil {
		for _, key := range unknownWrapperKeys {
			inner, ok := root[key].(map[string]interface{})
			if !ok {
				continue
			}
			var msg model.ProviderMessage
			errs = append(errs, weakDecode(inner, &msg))
			if msg.Call != nil || msg.ID != "" {
				d.msg = msg
				break
			}
		}
	}
	d.err = errors.Join(errs...)
	return d
}

// weakDecode decodes input into out, coercing numbers and strings. Fields
// that fail to decode are left zero; the rest are still populated.
func weakDecode(input interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

func hasAnyKey(m map[string]interface{}, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}
