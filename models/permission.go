package models

// PermissionEntry is the administrator-managed whitelist record that
// governs who may create events and at what platform fee.
type PermissionEntry struct {
	Identity    string `json:"identity"`
	IsOrganizer bool   `json:"is_organizer"`
	FeeBps      int    `json:"fee_bps"`
	Active      bool   `json:"active"`
}
