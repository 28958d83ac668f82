package trace

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/23skdu/longbow-lens/internal/lenserr"
	"github.com/google/uuid"
)

// Canonical wire names of trace fields. Problems are keyed by these.
const (
	FieldInputTokens     = "input_tokens"
	FieldEmbeddings      = "embeddings"
	FieldLayerEmbeddings = "all_layer_embeddings"
	FieldAttentionHeads  = "attention_heads"
	FieldFFNActivations  = "ffn_activations"
	FieldTopK            = "top_k"
	FieldFirstToken      = "first_token_generation"
	FieldGenerationSteps = "generation_steps"
)

// aliases lists, per canonical field, the wire names backends have been
// seen to emit, in precedence order.
var aliases = map[string][]string{
	FieldAttentionHeads: {FieldAttentionHeads, "all_attention_heads"},
	FieldTopK:           {FieldTopK, "top_k_tokens"},
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Decode reads a backend response. It accepts a bare trace, the
// {response, visualization_data} envelope and the session-oriented
// {message, visualization} envelope.
func Decode(r io.Reader) (*Trace, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, lenserr.Malformed("read trace").WithCause(err)
	}
	return DecodeBytes(data)
}

// DecodeBytes is Decode over an in-memory payload. Only a payload that is
// not a JSON object fails as a whole; a field with the wrong shape is left
// absent and recorded in Trace.Problems.
func DecodeBytes(data []byte) (*Trace, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, lenserr.Malformed("trace payload must be a JSON object")
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, lenserr.Malformed("decode envelope").WithCause(err)
	}

	body := top
	var text string
	switch {
	case top["visualization_data"] != nil:
		text = stringText(top["response"])
		if err := object(top["visualization_data"], &body); err != nil {
			return nil, lenserr.Malformed("visualization_data must be a JSON object").WithCause(err)
		}
	case top["visualization"] != nil:
		text = messageText(top["message"])
		if err := object(top["visualization"], &body); err != nil {
			return nil, lenserr.Malformed("visualization must be a JSON object").WithCause(err)
		}
	}

	t := &Trace{ID: uuid.New(), ReceivedAt: time.Now().UTC(), Response: text}
	d := fieldDecoder{raw: body, problems: make(map[string]error)}

	decodeField(&d, FieldInputTokens, &t.InputTokens)
	decodeField(&d, FieldEmbeddings, &t.Embeddings)
	decodeField(&d, FieldLayerEmbeddings, &t.LayerEmbeddings)
	decodeField(&d, FieldAttentionHeads, &t.AttentionHeads)
	decodeField(&d, FieldFFNActivations, &t.FFNActivations)
	decodeField(&d, FieldTopK, &t.TopK)
	decodeField(&d, FieldFirstToken, &t.FirstToken)
	decodeField(&d, FieldGenerationSteps, &t.GenerationSteps)

	if !t.AttentionHeads.Present && d.problems[FieldAttentionHeads] == nil {
		// A single head-averaged matrix is shown as one head.
		var avg Field[Matrix]
		if d.decode("attention", FieldAttentionHeads, &avg) && avg.Present {
			t.AttentionHeads = Some([]Matrix{avg.Value})
		}
	}

	if len(d.problems) > 0 {
		t.Problems = d.problems
	}
	return t, nil
}

type fieldDecoder struct {
	raw      map[string]json.RawMessage
	problems map[string]error
}

// decode unmarshals the wire key into dst and reports whether the key was
// there. A shape error is recorded against field.
func (d *fieldDecoder) decode(key, field string, dst json.Unmarshaler) bool {
	raw, ok := d.raw[key]
	if !ok {
		return false
	}
	if err := dst.UnmarshalJSON(raw); err != nil {
		d.problems[field] = lenserr.Malformed("%s has the wrong shape", key).
			WithContext("field", field).
			WithCause(err)
	}
	return true
}

// decodeField fills dst from the first alias of field present on the wire.
func decodeField[T any](d *fieldDecoder, field string, dst *Field[T]) {
	names, ok := aliases[field]
	if !ok {
		names = []string{field}
	}
	for _, name := range names {
		if raw, ok := d.raw[name]; !ok || isNull(raw) {
			continue
		}
		d.decode(name, field, dst)
		return
	}
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// object decodes raw into dst when it is a JSON object. null leaves dst
// empty.
func object(raw json.RawMessage, dst *map[string]json.RawMessage) error {
	*dst = nil
	if isNull(raw) {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func stringText(raw json.RawMessage) string {
	var text string
	if json.Unmarshal(raw, &text) == nil {
		return text
	}
	return ""
}

// messageText accepts the message as a chat object or a bare string.
func messageText(raw json.RawMessage) string {
	var msg chatMessage
	if json.Unmarshal(raw, &msg) == nil {
		return msg.Content
	}
	return stringText(raw)
}
