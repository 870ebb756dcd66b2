package access

// Surface selects the label set used when rendering navigation
type Surface string

const (
	SurfaceBottomBar Surface = "bottom"
	SurfaceSidebar   Surface = "sidebar"
)

// Item is one navigation destination
type Item struct {
	Destination string `json:"destination"`
	Label       string `json:"label"`
	Icon        string `json:"icon"`
}

type entry struct {
	destination string
	icon        string
	short       string
	long        string
}

func (e entry) item(surface Surface) Item {
	label := e.short
	if surface == SurfaceSidebar {
		label = e.long
	}
	return Item{Destination: e.destination, Label: label, Icon: e.icon}
}

var (
	baseEntries = [...]entry{
		{destination: "/scan", icon: "scan-line", short: "Scan", long: "Scan Medicine"},
		{destination: "/dashboard", icon: "layout-dashboard", short: "Dashboard", long: "Dashboard"},
		{destination: "/demo-qr", icon: "qr-code", short: "Demo", long: "Demo QR"},
	}
	adminEntry    = entry{destination: "/admin", icon: "shield-check", short: "Admin", long: "Admin Panel"}
	settingsEntry = entry{destination: "/settings", icon: "settings", short: "Settings", long: "Settings"}
)

// DeriveNavigation returns the bottom-bar navigation for a role
func DeriveNavigation(role Role) []Item {
	return DeriveNavigationFor(SurfaceBottomBar, role)
}

// DeriveNavigationFor builds a fresh ordered item list: the fixed base
// entries, the admin entry for admins, then settings last.
func DeriveNavigationFor(surface Surface, role Role) []Item {
	items := make([]Item, 0, len(baseEntries)+2)
	for _, e := range baseEntries {
		items = append(items, e.item(surface))
	}
	if role == RoleAdmin {
		items = append(items, adminEntry.item(surface))
	}
	return append(items, settingsEntry.item(surface))
}
