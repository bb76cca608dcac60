package hmr

import (
	"encoding/json"

	"github.com/conneroisu/hotswap/internal/errors"
)

// PatchModule is one module's replacement source inside a patch.
type PatchModule struct {
	ID     string `json:"id"`
	Source string `json:"source"`
}

// Boundary names a module whose accept handlers run after a patch applies.
type Boundary struct {
	ModuleID string `json:"moduleId"`
}

// PatchDocument is the payload carried in Update.Code by the bundled
// engine, and the format of its full bundle output.
type PatchDocument struct {
	Modules    []PatchModule `json:"modules"`
	Boundaries []Boundary    `json:"boundaries"`
}

// Encode returns the JSON text of d.
func (d PatchDocument) Encode() string {
	if d.Modules == nil {
		d.Modules = []PatchModule{}
	}
	if d.Boundaries == nil {
		d.Boundaries = []Boundary{}
	}
	data, err := json.Marshal(d)
	if err != nil {
		// only strings are marshalled
		panic(err)
	}
	return string(data)
}

// DecodePatch parses patch code produced by PatchDocument.Encode.
func DecodePatch(code string) (PatchDocument, error) {
	var d PatchDocument
	if err := json.Unmarshal([]byte(code), &d); err != nil {
		return PatchDocument{}, errors.NewProtocolError(errors.ErrCodeMalformedMessage, "invalid patch document", err)
	}
	for _, m := range d.Modules {
		if m.ID == "" {
			return PatchDocument{}, malformed("patch module without id")
		}
	}
	return d, nil
}
