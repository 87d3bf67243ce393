package rules

import "github.com/smartsafety/safetyvision/internal/conf"

// Zone is an axis-aligned safe-zone rectangle. Bounds are inclusive.
type Zone struct {
	Name string
	XMin float64
	YMin float64
	XMax float64
	YMax float64
}

// Contains reports whether p lies inside the zone or on its border.
func (z Zone) Contains(p Point) bool {
	return p.X >= z.XMin && p.X <= z.XMax && p.Y >= z.YMin && p.Y <= z.YMax
}

// DefaultSafeZones is the canteen area used when no zones are configured.
func DefaultSafeZones() []Zone {
	return []Zone{{Name: "canteen", XMin: 800, YMin: 0, XMax: 1200, YMax: 400}}
}

// ZonesFromConfig converts configured safe zones.
func ZonesFromConfig(zones []conf.SafeZone) []Zone {
	out := make([]Zone, 0, len(zones))
	for _, z := range zones {
		out = append(out, Zone{Name: z.Name, XMin: z.XMin, YMin: z.YMin, XMax: z.XMax, YMax: z.YMax})
	}
	return out
}

// inSafeZone returns the first zone containing the centroid of box.
func inSafeZone(zones []Zone, box BoundingBox) (Zone, bool) {
	c := box.Centroid()
	for _, z := range zones {
		if z.Contains(c) {
			return z, true
		}
	}
	return Zone{}, false
}
