package models

// Placeholder marks a basics field the reference service did not provide.
const Placeholder = "—"

// CountryBasics holds static reference facts about a country, fetched
// from the reference-data service per request. Immutable once built.
type CountryBasics struct {
	Code         string `json:"code"`
	OfficialName string `json:"officialName"`
	Capital      string `json:"capital"`
	Region       string `json:"region"`
	Subregion    string `json:"subregion"`
	Languages    string `json:"languages"`
	Currency     string `json:"currency"`
	CallingCode  string `json:"callingCode"`
}
