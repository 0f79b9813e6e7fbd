package announce

import (
	"math"
	"strconv"
	"strings"

	"relaybot/internal/feed"
)

// Placeholder is rendered for values that are absent or out of range.
const Placeholder = "N/A"

const gib = 1024 * 1024 * 1024

// Format renders an item as one announce line.
func Format(it feed.Item) string {
	a := it.Attributes

	var b strings.Builder
	b.Grow(256)
	field := func(label, value string) {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(label)
		b.WriteString(" [")
		b.WriteString(value)
		b.WriteByte(']')
	}

	field("Category", a.Category)
	field("Type", a.Type)
	field("Name", a.Name)
	field("Resolution", resolution(a.Resolution))
	field("Freeleech", a.Freeleech)
	field("Internal", internal(a.Internal))
	field("Double Upload", yesNo(a.DoubleUpload))
	field("Size", SizeGB(a.Size)+" GB")
	field("Uploader", a.Uploader)
	field("Url", Link(a.DownloadLink))
	return b.String()
}

func resolution(r *string) string {
	if r == nil {
		return Placeholder
	}
	return *r
}

func internal(v int) string {
	switch v {
	case 0:
		return "No"
	case 1:
		return "Yes"
	default:
		return Placeholder
	}
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

// SizeGB converts bytes to GiB rounded to two decimals, without trailing zeros.
func SizeGB(bytes uint64) string {
	v := math.Round(float64(bytes)/gib*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Link turns a download link into the page link: the /torrent/ segment becomes
// /torrents/ and everything from the last "." is cut. No "." yields Placeholder.
func Link(raw string) string {
	s := strings.ReplaceAll(raw, "/torrent/", "/torrents/")
	i := strings.LastIndexByte(s, '.')
	if i < 0 {
		return Placeholder
	}
	return s[:i]
}
