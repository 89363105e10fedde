package meshmodel

import (
	"fmt"
	"strings"

	"github.com/nerrad567/cync-bridge/internal/infrastructure/config"
)

// manufacturer is fixed across the fleet; the vendor only ever ships
// one brand of mesh hardware under this controller.
const manufacturer = "Savant"

// FromConfig turns the declared devices/groups section of configuration
// into the Device/Group slices Registry.New expects. hass_id is derived
// as "<account-id>-<device-id>", the stable identity the home-automation
// bus keys entities on; room is derived from the first "/"-delimited
// segment of the device name (e.g. "Kitchen/Under-cabinet" -> room
// "Kitchen"), a convention carried over from how the vendor app lets
// installers name devices.
func FromConfig(cfg *config.Config) ([]Device, []Group) {
	devices := make([]Device, 0, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		devices = append(devices, Device{
			ID:            dc.ID,
			HassID:        fmt.Sprintf("%s-%d", cfg.Account.ID, dc.ID),
			Name:          dc.Name,
			Room:          roomFromName(dc.Name),
			Manufacturer:  manufacturer,
			Model:         dc.Model,
			ModelNumber:   dc.ModelNumber,
			Capabilities:  ParseCapabilities(dc.Capabilities),
			MinColorTempK: dc.MinColorTempK,
			MaxColorTempK: dc.MaxColorTempK,
			IsBridge:      dc.IsBridge,
		})
	}

	groups := make([]Group, 0, len(cfg.Groups))
	for _, gc := range cfg.Groups {
		members := make([]int, len(gc.MemberIDs))
		copy(members, gc.MemberIDs)
		groups = append(groups, Group{
			ID:        gc.ID,
			Name:      gc.Name,
			MemberIDs: members,
		})
	}

	return devices, groups
}

// roomFromName extracts the room/area hint from a device name prefix.
// Names without a "/" separator have no room hint.
func roomFromName(name string) string {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return strings.TrimSpace(name[:i])
	}
	return ""
}
