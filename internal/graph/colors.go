package graph

import "synapse/cli/internal/model"

const (
	ColorBlue     = "blue"
	ColorPurple   = "purple"
	ColorGreen    = "green"
	ColorAmber    = "amber"
	ColorGray     = "gray"
	ColorResource = "slate"
	ColorWork     = "pink"
)

// RoleColor returns the color class for an agent role. Roles without their
// own class render as coders.
func RoleColor(r model.Role) string {
	switch r {
	case model.RolePlanner:
		return ColorPurple
	case model.RoleTester:
		return ColorGreen
	case model.RoleExecutor:
		return ColorAmber
	case model.RoleObserver:
		return ColorGray
	default:
		return ColorBlue
	}
}
