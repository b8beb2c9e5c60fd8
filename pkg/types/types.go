package types

// Address is the postal address of a club as printed on its detail page.
// Full is always set; the parsed parts are best-effort.
type Address struct {
	Full     string `json:"full"`
	Street   string `json:"street,omitempty"`
	Postcode string `json:"postcode,omitempty"`
	City     string `json:"city,omitempty"`
}

// Record is one club. ID is derived from the last path segment of the
// club's detail URL and is stable across refreshes.
//
// Records are never modified after a refresh produced them.
type Record struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	URL     string   `json:"url"`
	Address *Address `json:"address,omitempty"`
	Phone   string   `json:"phone,omitempty"`
	Email   string   `json:"email,omitempty"`
	Website string   `json:"website,omitempty"`
}

// ListItem is the abbreviated form of a Record returned by list endpoints.
type ListItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Item returns the list form of r.
func (r Record) Item() ListItem {
	return ListItem{ID: r.ID, Name: r.Name, URL: r.URL}
}

// Snapshot is a complete set of records keyed by ID, produced by one refresh.
type Snapshot map[string]Record
