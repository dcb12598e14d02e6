// Package hal defines the typed HAL (Hypertext Application Language) schema
// served by the hardware metadata API: paginated collections, boards and devices.
package hal

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingField is returned when a required key is absent from a resource.
var ErrMissingField = errors.New("missing required field")

// FieldError reports a required field missing from an upstream resource.
type FieldError struct {
	// Resource identifies the offending resource (self href or kind)
	Resource string
	// Field is the dotted JSON path of the missing key
	Field string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s %q", e.Resource, ErrMissingField, e.Field)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FieldError) Unwrap() error {
	return ErrMissingField
}

// Link is a single hypermedia link.
type Link struct {
	Href string `json:"href"`
}

// LinkList holds zero or more links of one relation.
// HAL allows a relation to be either a single link object or an array of them.
type LinkList []Link

// UnmarshalJSON accepts both the object and the array form.
func (l *LinkList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}

	if data[0] == '{' {
		var single Link
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*l = LinkList{single}
		return nil
	}

	var many []Link
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// Links maps relation names to their links.
type Links map[string]LinkList

// Href returns the first href of rel, or "" if the relation is absent.
func (l Links) Href(rel string) string {
	if len(l[rel]) == 0 {
		return ""
	}
	return l[rel][0].Href
}

// Page is one page of an embedded HAL collection.
type Page struct {
	Embedded struct {
		Items []Board `json:"item"`
	} `json:"_embedded"`
	Links struct {
		Next *Link `json:"next"`
	} `json:"_links"`
}

// Next returns the href of the next page, or "" on the last page.
func (p *Page) Next() string {
	if p.Links.Next == nil {
		return ""
	}
	return p.Links.Next.Href
}

// Text renders a passed-through value for logs and messages: JSON strings
// are unquoted, anything else is returned as raw JSON.
func Text(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// present reports whether a key was seen during decoding. A key holding
// null decodes to the literal "null" and counts as present.
func present(raw json.RawMessage) bool {
	return raw != nil
}

// Board is a development board as embedded in the boards collection.
// Title is passed through verbatim; only its presence is checked.
type Board struct {
	Title json.RawMessage `json:"title"`

	// DetectCode is opaque and passed through verbatim.
	DetectCode json.RawMessage `json:"detect_code,omitempty"`

	Links Links `json:"_links"`
}

// Related returns the board's links for rel, in document order.
func (b *Board) Related(rel string) LinkList {
	return b.Links[rel]
}

// HasDetectCode reports whether detect_code is present and not null.
func (b *Board) HasDetectCode() bool {
	code := bytes.TrimSpace(b.DetectCode)
	return len(code) > 0 && !bytes.Equal(code, []byte("null"))
}

// SelfHref returns the board's self link, or "" if absent.
func (b *Board) SelfHref() string {
	return b.Links.Href("self")
}

// Validate checks the keys needed to compose a board record.
func (b *Board) Validate() error {
	resource := "board"
	if href := b.SelfHref(); href != "" {
		resource = href
	}

	if !present(b.Title) {
		return &FieldError{Resource: resource, Field: "title"}
	}
	if b.SelfHref() == "" {
		return &FieldError{Resource: resource, Field: "_links.self.href"}
	}
	return nil
}

// Device is a device resource reached through a board's device links.
// Title and SourcePackID are passed through verbatim, null included.
type Device struct {
	Title        json.RawMessage `json:"title"`
	SourcePackID json.RawMessage `json:"source_pack_id"`

	Links Links `json:"_links"`
}

// SelfHref returns the device's self link, or "" if absent.
func (d *Device) SelfHref() string {
	return d.Links.Href("self")
}

// Validate checks the keys needed to summarize a device. The resource
// argument names the device in errors when its self link is missing.
func (d *Device) Validate(resource string) error {
	if href := d.SelfHref(); href != "" {
		resource = href
	}

	switch {
	case !present(d.Title):
		return &FieldError{Resource: resource, Field: "title"}
	case !present(d.SourcePackID):
		return &FieldError{Resource: resource, Field: "source_pack_id"}
	case d.SelfHref() == "":
		return &FieldError{Resource: resource, Field: "_links.self.href"}
	}
	return nil
}
