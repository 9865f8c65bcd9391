// Package assets embeds the default map data.
package assets

import _ "embed"

// WorldGeoJSON is a coarse continent outline with a few city markers.
//
//go:embed world.geojson
var WorldGeoJSON []byte
