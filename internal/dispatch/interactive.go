package dispatch

import (
	"strings"

	"github.com/blocklog/blocklog/pkg/types"
)

// Interactive reports whether a right-click on a block of material m is
// logged as an Interaction. container is true for inventory holders.
type Interactive func(m types.Material, container bool) bool

var buttons = map[types.Material]bool{
	"LEVER":                      true,
	"STONE_BUTTON":               true,
	"OAK_BUTTON":                 true,
	"SPRUCE_BUTTON":              true,
	"BIRCH_BUTTON":               true,
	"JUNGLE_BUTTON":              true,
	"ACACIA_BUTTON":              true,
	"DARK_OAK_BUTTON":            true,
	"CRIMSON_BUTTON":             true,
	"WARPED_BUTTON":              true,
	"POLISHED_BLACKSTONE_BUTTON": true,
}

// IsInteractive is the default predicate: doors, trapdoors, fence gates,
// inventory holders, levers and buttons.
func IsInteractive(m types.Material, container bool) bool {
	if container {
		return true
	}
	name := strings.ToUpper(string(m))
	switch {
	case strings.HasSuffix(name, "_TRAPDOOR"), name == "TRAPDOOR":
		return true
	case strings.HasSuffix(name, "_DOOR"):
		return true
	case strings.HasSuffix(name, "_FENCE_GATE"), name == "FENCE_GATE":
		return true
	}
	return buttons[types.Material(name)]
}
