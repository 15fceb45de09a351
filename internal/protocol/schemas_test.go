package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile("hello.schema.json")
	welcomeSchema := compile("welcome.schema.json")
	rejectSchema := compile("reject.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "account":"alice",
	  "character_id":7
	}`), &hello)
	validate(helloSchema, hello)

	var welcome any
	_ = json.Unmarshal([]byte(`{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "service_name":"game-1",
	  "character_id":7,
	  "field_id":100000000
	}`), &welcome)
	validate(welcomeSchema, welcome)

	var reject any
	_ = json.Unmarshal([]byte(`{
	  "type":"REJECT",
	  "protocol_version":"1.0",
	  "reason":"account already connected"
	}`), &reject)
	validate(rejectSchema, reject)

	var badHello any
	_ = json.Unmarshal([]byte(`{"type":"HELLO","protocol_version":"1.0"}`), &badHello)
	if err := helloSchema.Validate(badHello); err == nil {
		t.Fatalf("hello without account/character_id should fail validation")
	}
}
