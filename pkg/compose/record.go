// Package compose flattens boards and their device links into simplified
// records with absolute links.
package compose

import "encoding/json"

// Link is an absolute hypermedia link in composed output.
type Link struct {
	Href string `json:"href"`
}

// DeviceSummary is the simplified form of a device resource. Title and
// SourcePackID are copied verbatim from the device, null included.
type DeviceSummary struct {
	Title        json.RawMessage `json:"title"`
	SourcePackID json.RawMessage `json:"source_pack_id"`
	Links        map[string]Link `json:"_links"`
}

// Record is one composed board: its title, its opaque detect code, the
// summaries of its devices in link order, and its own absolute link.
type Record struct {
	Title      json.RawMessage `json:"title"`
	DetectCode json.RawMessage `json:"detect_code"`
	Devices    []DeviceSummary `json:"devices"`
	Links      map[string]Link `json:"_links"`
}
