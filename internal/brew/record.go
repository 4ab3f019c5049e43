// Package brew defines the canonical brew record and normalizes raw tabular
// and JSON brew logs into it.
package brew

// Access controls who may retrieve a record.
type Access string

const (
	AccessPublic  Access = "public"
	AccessPrivate Access = "private"
)

// JAG metric names, in the order they are rendered and averaged.
const (
	JAGFlavourIntensity = "flavour_intensity"
	JAGAcidity          = "acidity"
	JAGMouthfeel        = "mouthfeel"
	JAGSweetness        = "sweetness"
	JAGPurchaseIntent   = "purchase_intent"
)

// JAGMetrics lists the five just-about-right taste metrics.
var JAGMetrics = []string{
	JAGFlavourIntensity,
	JAGAcidity,
	JAGMouthfeel,
	JAGSweetness,
	JAGPurchaseIntent,
}

// Record is one historical brew session. Optional scalars are pointers so a
// missing value is encoded as an explicit null rather than dropped.
type Record struct {
	ID         string      `json:"id"`
	Bean       Bean        `json:"bean"`
	Brewing    Brewing     `json:"brewing"`
	Evaluation *Evaluation `json:"evaluation"`
	Access     Access      `json:"access,omitempty"`
	UserID     string      `json:"user_id,omitempty"`
}

// Bean describes the coffee that was brewed.
type Bean struct {
	Name        *string  `json:"name"`
	Origin      *string  `json:"origin"`
	Process     *string  `json:"process"`
	Variety     *string  `json:"variety"`
	Region      *string  `json:"region"`
	RoastLevel  *string  `json:"roast_level"`
	RoastedOn   *string  `json:"roasted_on"`
	RoastedDays *float64 `json:"roasted_days"`
	Altitude    *string  `json:"altitude"`
	FlavorNotes []string `json:"flavor_notes"`
}

// Brewing holds the recipe parameters of a brew.
type Brewing struct {
	Brewer       *string  `json:"brewer"`
	Temperature  *float64 `json:"temperature"`
	GrindingSize *float64 `json:"grinding_size"`
	Dose         *float64 `json:"dose"`
	TargetWater  *float64 `json:"target_water"`
	Pours        []Pour   `json:"pours"`
}

// Pour is one pour step. Start and End are seconds from the start of the
// brew; WaterAdded is grams.
type Pour struct {
	Start      *float64 `json:"start"`
	End        *float64 `json:"end"`
	WaterAdded *float64 `json:"water_added"`
}

// Evaluation is the taster's verdict. Liking is on a 0-10 scale, each JAG
// metric on a 1-5 scale. Only metrics that were recorded are present in JAG.
type Evaluation struct {
	Liking *float64           `json:"liking"`
	JAG    map[string]float64 `json:"jag"`
}

// Empty reports whether the evaluation carries no data at all.
func (e *Evaluation) Empty() bool {
	return e == nil || (e.Liking == nil && len(e.JAG) == 0)
}

// IsPublic reports whether the record is visible to every caller. Records
// without an access marker are treated as public.
func (r Record) IsPublic() bool {
	return r.Access == "" || r.Access == AccessPublic
}

// Str returns a pointer to s. Handy for building records in code and tests.
func Str(s string) *string { return &s }

// Num returns a pointer to f.
func Num(f float64) *float64 { return &f }
