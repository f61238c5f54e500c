package bundlesync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/fitmarket/backend/internal/domain/bundlesync"
	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
)

// Envelope paths inside a delivery body
const (
	pathEventID   = "id"
	pathTopic     = "topic"
	pathCreatedAt = "created_at"
	pathData      = "data"
	pathDataID    = "data.id"
	pathUpdatedAt = "data.updated_at"
)

// ParseEnvelope extracts the routing and dedupe fields of a delivery without
// decoding the payload. Headers win over body fields.
func ParseEnvelope(body []byte, headerTopic, headerEventID string) (bundlesync.Envelope, error) {
	if !gjson.ValidBytes(body) {
		return bundlesync.Envelope{}, fmt.Errorf("%w: body is not valid JSON", bundlesync.ErrMalformedPayload)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return bundlesync.Envelope{}, fmt.Errorf("%w: body is not a JSON object", bundlesync.ErrMalformedPayload)
	}

	topic := strings.TrimSpace(headerTopic)
	if topic == "" {
		topic = root.Get(pathTopic).String()
	}
	if topic == "" {
		return bundlesync.Envelope{}, fmt.Errorf("%w: topic is missing", bundlesync.ErrMalformedPayload)
	}
	eventID := strings.TrimSpace(headerEventID)
	if eventID == "" {
		eventID = root.Get(pathEventID).String()
	}

	env := bundlesync.Envelope{
		Topic:             bundlesync.Topic(topic),
		ProviderEventID:   eventID,
		ResourceID:        root.Get(pathDataID).String(),
		ResourceUpdatedAt: root.Get(pathUpdatedAt).String(),
	}
	if created := root.Get(pathCreatedAt); created.Exists() {
		env.CreatedAt = created.Time()
	}
	return env, nil
}

// payloadValidator enforces the validate tags of the topic schemas and
// reports fields by their JSON names.
var payloadValidator = newPayloadValidator()

func newPayloadValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodePayload strictly decodes the data object of a known topic.
// Unknown fields, trailing content and failed validation are all malformed.
func DecodePayload(topic bundlesync.Topic, body []byte) (any, error) {
	payload := bundlesync.PayloadFor(topic)
	if payload == nil {
		return nil, fmt.Errorf("%w: no schema for topic %q", bundlesync.ErrMalformedPayload, topic)
	}
	data := gjson.GetBytes(body, pathData)
	if !data.IsObject() {
		return nil, fmt.Errorf("%w: data object is missing", bundlesync.ErrMalformedPayload)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(data.Raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", bundlesync.ErrMalformedPayload, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: unexpected content after data object", bundlesync.ErrMalformedPayload)
	}
	if err := payloadValidator.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %s", bundlesync.ErrMalformedPayload, describeValidation(err))
	}
	return payload, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		msg := field + ": " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	sort.Strings(msgs)
	return strings.Join(msgs, ", ")
}
