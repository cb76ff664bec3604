package ics

import (
	"strconv"
	"strings"
)

// ColorProperty keeps the exact hex color next to COLOR, which RFC 7986
// restricts to CSS3 color names.
const ColorProperty = "X-TASKCAL-COLOR"

type rgb struct{ r, g, b int }

// cssColors is a subset of the CSS3 named colors spread over the hue wheel.
var cssColors = map[string]rgb{
	"black":          {0, 0, 0},
	"white":          {255, 255, 255},
	"gray":           {128, 128, 128},
	"silver":         {192, 192, 192},
	"lightgray":      {211, 211, 211},
	"dimgray":        {105, 105, 105},
	"red":            {255, 0, 0},
	"maroon":         {128, 0, 0},
	"crimson":        {220, 20, 60},
	"salmon":         {250, 128, 114},
	"tomato":         {255, 99, 71},
	"coral":          {255, 127, 80},
	"orange":         {255, 165, 0},
	"darkorange":     {255, 140, 0},
	"gold":           {255, 215, 0},
	"yellow":         {255, 255, 0},
	"khaki":          {240, 230, 140},
	"olive":          {128, 128, 0},
	"yellowgreen":    {154, 205, 50},
	"lime":           {0, 255, 0},
	"limegreen":      {50, 205, 50},
	"lightgreen":     {144, 238, 144},
	"green":          {0, 128, 0},
	"seagreen":       {46, 139, 87},
	"mediumseagreen": {60, 179, 113},
	"teal":           {0, 128, 128},
	"turquoise":      {64, 224, 208},
	"aqua":           {0, 255, 255},
	"skyblue":        {135, 206, 235},
	"lightskyblue":   {135, 206, 250},
	"deepskyblue":    {0, 191, 255},
	"dodgerblue":     {30, 144, 255},
	"royalblue":      {65, 105, 225},
	"steelblue":      {70, 130, 180},
	"blue":           {0, 0, 255},
	"navy":           {0, 0, 128},
	"slateblue":      {106, 90, 205},
	"mediumpurple":   {147, 112, 219},
	"blueviolet":     {138, 43, 226},
	"purple":         {128, 0, 128},
	"violet":         {238, 130, 238},
	"orchid":         {218, 112, 214},
	"fuchsia":        {255, 0, 255},
	"hotpink":        {255, 105, 180},
	"pink":           {255, 192, 203},
	"lightpink":      {255, 182, 193},
	"brown":          {165, 42, 42},
	"sienna":         {160, 82, 45},
	"chocolate":      {210, 105, 30},
	"tan":            {210, 180, 140},
}

// cssColorName returns the CSS3 name nearest to c. Names pass through
// lowercased; anything unparseable yields "".
func cssColorName(c string) string {
	c = strings.TrimSpace(c)
	if c == "" {
		return ""
	}
	if !strings.HasPrefix(c, "#") {
		name := strings.ToLower(c)
		if _, ok := cssColors[name]; ok {
			return name
		}
		return ""
	}
	want, ok := parseHex(c[1:])
	if !ok {
		return ""
	}
	best, bestDist := "", -1
	for name, v := range cssColors {
		dr, dg, db := v.r-want.r, v.g-want.g, v.b-want.b
		d := dr*dr + dg*dg + db*db
		if bestDist < 0 || d < bestDist || (d == bestDist && name < best) {
			best, bestDist = name, d
		}
	}
	return best
}

// parseHex reads #rgb, #rgba, #rrggbb or #rrggbbaa; alpha is ignored.
func parseHex(h string) (rgb, bool) {
	switch len(h) {
	case 3, 4:
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	case 6, 8:
		h = h[:6]
	default:
		return rgb{}, false
	}
	n, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return rgb{}, false
	}
	return rgb{int(n >> 16 & 0xff), int(n >> 8 & 0xff), int(n & 0xff)}, true
}
