package extract

// Box is a page media box in PDF points.
type Box struct {
	Width  float64
	Height float64
}

// Coordinates maps plain text offsets back onto PDF pages.
type Coordinates struct {
	Pages []Page `json:"pages"`
}

// BuildCoordinates sets the bounding box and rotation of each page span.
// Missing boxes leave the bbox zero.
func BuildCoordinates(pages []Page, boxes []Box, rotations []float64) Coordinates {
	out := make([]Page, len(pages))
	for i, p := range pages {
		if i < len(boxes) {
			p.BBox = [4]float64{0, 0, boxes[i].Width, boxes[i].Height}
		}
		if i < len(rotations) {
			p.Rotation = int(rotations[i] + 0.5)
		}
		out[i] = p
	}
	return Coordinates{Pages: out}
}

// FindPage returns the index of the page whose span holds offset, -1 when
// none does. Offsets inside a page separator belong to no page.
func FindPage(pages []Page, offset int) int {
	lo, hi := 0, len(pages)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch p := pages[mid]; {
		case offset < p.Start:
			hi = mid - 1
		case offset >= p.End:
			lo = mid + 1
		default:
			return mid
		}
	}
	return -1
}
