package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const maxJSONBody = 64 << 10

var shareSchema = mustSchema(`{
	"type": "object",
	"required": ["fingerprint", "doctor"],
	"properties": {
		"fingerprint": {"type": "string", "minLength": 1, "maxLength": 128},
		"doctor": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"}
	}
}`)

var registerDoctorSchema = mustSchema(`{
	"type": "object",
	"required": ["name", "specialization"],
	"properties": {
		"name": {"type": "string", "minLength": 1, "maxLength": 128},
		"specialization": {"type": "string", "minLength": 1, "maxLength": 128}
	}
}`)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(err)
	}
	return schema
}

// decode validates the JSON body against schema before unmarshalling it
// into v. On failure it writes a 400 and returns false.
func decode(w http.ResponseWriter, r *http.Request, schema *gojsonschema.Schema, v interface{}) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		http.Error(w, "Invalid request body: "+strings.Join(msgs, "; "), http.StatusBadRequest)
		return false
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
