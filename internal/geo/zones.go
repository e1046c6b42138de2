package geo

import "github.com/example/rider-client/internal/models"

const defaultZoneRadiusM = 300

// Zone is a named embarkation point with a coverage radius.
type Zone struct {
	ID           string
	Name         string
	Lat          float64
	Lon          float64
	RadiusMeters float64
}

func (z Zone) radius() float64 {
	if z.RadiusMeters <= 0 {
		return defaultZoneRadiusM
	}
	return z.RadiusMeters
}

// Covers reports whether c lies within the zone radius (boundary inclusive).
func (z Zone) Covers(c models.Coord) bool {
	return Haversine(z.Lat, z.Lon, c.Lat, c.Lon) <= z.radius()
}

// Catalog is a fixed, read-only list of embarkation zones.
type Catalog []Zone

// Overlapping counts the zones covering c.
func (cat Catalog) Overlapping(c models.Coord) int {
	n := 0
	for _, z := range cat {
		if z.Covers(c) {
			n++
		}
	}
	return n
}

// Embarkation is the Porto-Novo line catalog. Coordinates are approximate
// stop locations; every stop covers 300 m.
var Embarkation = Catalog{
	{ID: "fin_pave_agbokou", Name: "Fin pavé Agbokou", Lat: 6.5068, Lon: 2.6452},
	{ID: "ecole_normale_sup", Name: "Ecole Normale Supérieure", Lat: 6.4922, Lon: 2.6178},
	{ID: "place_bayole", Name: "Place Bayole", Lat: 6.4794, Lon: 2.6226},
	{ID: "ouando", Name: "Ouando", Lat: 6.5003, Lon: 2.6061},
	{ID: "ouando_piscine", Name: "Ouando (Piscine municipale)", Lat: 6.5019, Lon: 2.6077},
	{ID: "beau_rivage", Name: "Beau Rivage (Carrefour)", Lat: 6.4747, Lon: 2.6137},
	{ID: "ouando_marche", Name: "Ouando (Marché)", Lat: 6.4991, Lon: 2.6049},
	{ID: "agata_marche", Name: "Agata (Marché)", Lat: 6.5189, Lon: 2.6301},
	{ID: "agata_carrefour", Name: "Agata (Carrefour)", Lat: 6.5204, Lon: 2.6318},
	{ID: "adjara_marche", Name: "Adjara (Marché)", Lat: 6.5431, Lon: 2.6697},
	{ID: "avakpa", Name: "Avakpa", Lat: 6.4862, Lon: 2.6389},
	{ID: "misseterete_carrefour", Name: "Misserete (Carrefour)", Lat: 6.5626, Lon: 2.5887},
	{ID: "awana_carrefour", Name: "Awana (Carrefour)", Lat: 6.4905, Lon: 2.6512},
	{ID: "grand_marche", Name: "Grand Marché", Lat: 6.4832, Lon: 2.6281},
	{ID: "baba_iyabo_carrefour", Name: "Baba Iyabo (Carrefour)", Lat: 6.4886, Lon: 2.6085},
	{ID: "ahouangbo_marche", Name: "Ahouangbo (Marché)", Lat: 6.4957, Lon: 2.6356},
	{ID: "agbokou", Name: "Agbokou", Lat: 6.5036, Lon: 2.6398},
}
