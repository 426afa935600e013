package models

import (
	"encoding/json"
)

// EventMetadata is the off-chain JSON document referenced by an event's
// metadata URI. The document is untrusted input: any field may be absent
// or carry the wrong type, so decoding is field-by-field and lenient.
type EventMetadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Tags        []string `json:"tags"`
	Image       string   `json:"image"`
	Organizer   string   `json:"organizer"`

	Location MetadataLocation `json:"location"`
	DateTime MetadataDateTime `json:"date_time"`
}

type MetadataLocation struct {
	Venue   string `json:"venue"`
	Address string `json:"address"`
	City    string `json:"city"`
	Country string `json:"country"`
}

type MetadataDateTime struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// DecodeMetadata parses an off-chain metadata document. Fields that are
// missing or of an unexpected type decode to their zero value instead of
// failing the whole document.
func DecodeMetadata(raw []byte) *EventMetadata {
	var fields map[string]json.RawMessage
	md := &EventMetadata{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return md
	}

	lenient(fields["name"], &md.Name)
	lenient(fields["description"], &md.Description)
	lenient(fields["category"], &md.Category)
	lenient(fields["tags"], &md.Tags)
	lenient(fields["image"], &md.Image)
	lenient(fields["organizer"], &md.Organizer)
	lenient(fields["location"], &md.Location)
	lenient(fields["date_time"], &md.DateTime)

	return md
}

func lenient(raw json.RawMessage, dst any) {
	if len(raw) == 0 {
		return
	}
	// A type mismatch leaves dst at its zero value.
	_ = json.Unmarshal(raw, dst)
}
