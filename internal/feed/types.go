package feed

// Item is one entry of the tracker API's "data" array.
type Item struct {
	ID         string     `json:"id"`
	Attributes Attributes `json:"attributes"`
}

// Attributes carries the display fields plus the freshness marker (BumpedAt).
type Attributes struct {
	Category     string  `json:"category"`
	Type         string  `json:"type"`
	Name         string  `json:"name"`
	Resolution   *string `json:"resolution"`
	Freeleech    string  `json:"freeleech"`
	Internal     int     `json:"internal"`
	DoubleUpload bool    `json:"double_upload"`
	Size         uint64  `json:"size"`
	Uploader     string  `json:"uploader"`
	DownloadLink string  `json:"download_link"`
	BumpedAt     string  `json:"bumped_at"`
}

type response struct {
	Data []Item `json:"data"`
}
