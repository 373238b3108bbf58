package caldav

// Calendar is a calendar collection discovered on the server.
type Calendar struct {
	Path        string
	DisplayName string
}
