package endpoint

import (
	"strings"

	"github.com/icodeforyou/netztransparenz-go/materialize"
	"github.com/icodeforyou/netztransparenz-go/payload"
)

// Names of the built-in endpoints used by typed helpers.
const (
	Jahresmarktpraemie = "jahresmarktpraemie"
	Marktpraemie       = "marktpraemie"
	TrafficLight       = "traffic_light"
)

var tsos = []string{"50Hertz", "Amprion", "TenneT TSO", "TransnetBW"}

func numbers(names ...string) []payload.Column {
	out := make([]payload.Column, len(names))
	for i, n := range names {
		out[i] = payload.Column{Raw: n, Kind: payload.Number}
	}
	return out
}

func optional(cols ...payload.Column) []payload.Column {
	for i := range cols {
		cols[i].Optional = true
	}
	return cols
}

func perTSO(format string) []string {
	out := make([]string, len(tsos))
	for i, t := range tsos {
		out[i] = t + format
	}
	return out
}

func concat(parts ...[]payload.Column) []payload.Column {
	var out []payload.Column
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Layout "Datum;von;Zeitzone von;bis;Zeitzone bis;…" used by forecasts and marketing.
func splitZone(name, path, dateLayout string, values []payload.Column) Descriptor {
	return Descriptor{
		Name: name,
		Path: path,
		Schema: payload.Schema{
			Columns: concat([]payload.Column{
				{Raw: "Datum", Kind: payload.Date},
				{Raw: "von", Kind: payload.Time},
				{Raw: "Zeitzone von", Kind: payload.Zone},
				{Raw: "bis", Kind: payload.Time},
				{Raw: "Zeitzone bis", Kind: payload.Zone},
			}, values),
			Policy: payload.FormatPolicy{DateLayout: dateLayout},
		},
		Von: &materialize.Instant{Name: "von", Date: "Datum", Time: "von", Zone: "Zeitzone von"},
		Bis: &materialize.Instant{Name: "bis", Date: "Datum", Time: "bis", Zone: "Zeitzone bis"},
	}
}

// Layout "Datum;Zeitzone;von;bis;Datenkategorie;…" used by balancing data.
func sharedZone(name, path string, category []payload.Column, values []payload.Column) Descriptor {
	return Descriptor{
		Name: name,
		Path: path,
		Schema: payload.Schema{
			Columns: concat([]payload.Column{
				{Raw: "Datum", Kind: payload.Date},
				{Raw: "Zeitzone", Kind: payload.Zone},
				{Raw: "von", Kind: payload.Time},
				{Raw: "bis", Kind: payload.Time},
			}, category, values),
			Policy: payload.FormatPolicy{DateLayout: payload.GermanDate},
		},
		Von: &materialize.Instant{Name: "von", Date: "Datum", Time: "von", Zone: "Zeitzone"},
		Bis: &materialize.Instant{Name: "bis", Date: "Datum", Time: "bis", Zone: "Zeitzone"},
	}
}

func nrvCategory() []payload.Column {
	return []payload.Column{
		{Raw: "Datenkategorie", Kind: payload.Text},
		{Raw: "Datentyp", Kind: payload.Text},
		{Raw: "Einheit", Kind: payload.Text, Optional: true},
	}
}

func positiveNegative() []payload.Column {
	names := append(perTSO(" (Positiv)"), "Deutschland (Positiv)")
	names = append(names, perTSO(" (Negativ)")...)
	names = append(names, "Deutschland (Negativ)")
	return concat(numbers(names...), optional(numbers("MOL-Abweichung")...))
}

func redispatchStyle(name, path string) Descriptor {
	return Descriptor{
		Name: name,
		Path: path,
		Schema: payload.Schema{
			Columns: concat([]payload.Column{
				{Raw: "BEGINN_DATUM", Kind: payload.Date},
				{Raw: "BEGINN_UHRZEIT", Kind: payload.Time},
				{Raw: "ZEITZONE_VON", Kind: payload.Zone},
				{Raw: "ENDE_DATUM", Kind: payload.Date},
				{Raw: "ENDE_UHRZEIT", Kind: payload.Time},
				{Raw: "ZEITZONE_BIS", Kind: payload.Zone},
				{Raw: "GRUND_DER_MASSNAHME", Kind: payload.Text},
				{Raw: "RICHTUNG", Kind: payload.Text},
			}, numbers("MITTLERE_LEISTUNG_MW", "MAXIMALE_LEISTUNG_MW", "GESAMTE_ARBEIT_MWH"), []payload.Column{
				{Raw: "ANWEISENDER_UENB", Kind: payload.Text},
				{Raw: "ANFORDERNDER_UENB", Kind: payload.Text},
				{Raw: "BETROFFENE_ANLAGE", Kind: payload.Text},
				{Raw: "PRIMAERENERGIEART", Kind: payload.Text},
			}),
			Policy: payload.FormatPolicy{DateLayout: payload.GermanDate},
		},
		Von: &materialize.Instant{Name: "BEGINN", Date: "BEGINN_DATUM", Time: "BEGINN_UHRZEIT", Zone: "ZEITZONE_VON"},
		Bis: &materialize.Instant{Name: "ENDE", Date: "ENDE_DATUM", Time: "ENDE_UHRZEIT", Zone: "ZEITZONE_BIS"},
	}
}

func absm(name, path string) Descriptor {
	return sharedZone(name, path,
		[]payload.Column{{Raw: "Datenkategorie", Kind: payload.Text}, {Raw: "Einheit", Kind: payload.Text, Optional: true}},
		numbers("H1", "H2", "T1", "T2", "T3", "T4", "T5", "T6"))
}

func negativePrices(name, path string) Descriptor {
	return Descriptor{
		Name: name,
		Path: path,
		Schema: payload.Schema{
			Columns: []payload.Column{{Raw: "Datum", Kind: payload.DateTime}, {Raw: "Negativ", Kind: payload.Text}},
		},
	}
}

type nrvFamily struct {
	key, path string
	category  func() []payload.Column
	values    func() []payload.Column
	quality   []string
}

var (
	both        = []string{"betrieblich", "qualitaetsgesichert"}
	operational = []string{"betrieblich"}
	assured     = []string{"qualitaetsgesichert"}
	qualityPath = map[string]string{"betrieblich": "Betrieblich", "qualitaetsgesichert": "Qualitaetsgesichert"}
)

func nrvFamilies() []nrvFamily {
	fixed := func(cols ...payload.Column) func() []payload.Column {
		return func() []payload.Column { return append([]payload.Column(nil), cols...) }
	}
	return []nrvFamily{
		{"nrvsaldo", "NRVSaldo", nrvCategory, fixed(concat(numbers("Deutschland"),
			optional(numbers("AEP Knappheitskomponente", "Mrl-Mol-Abweichung", "Srl-Mol-Abweichung")...))...), both},
		{"rzsaldo", "RZSaldo", nrvCategory, fixed(numbers(tsos...)...), both},
		{"prl", "PRL", nrvCategory, positiveNegative, both},
		{"aktivierte_srl", "AktivierteSRL", nrvCategory, positiveNegative, both},
		{"aktivierte_mrl", "AktivierteMRL", nrvCategory, positiveNegative, both},
		{"srl_optimierung", "SRLOptimierung", nrvCategory, positiveNegative, both},
		{"mrl_optimierung", "MRLOptimierung", nrvCategory, positiveNegative, both},
		{"difference", "Difference", nrvCategory, positiveNegative, both},
		{"abschaltbare_lasten", "AbschaltbareLasten", nrvCategory,
			fixed(numbers(append([]string{"Deutschland (Positiv)"}, perTSO(" (Positiv)")...)...)...), both},
		{"zusatzmassnahmen", "Zusatzmassnahmen", nrvCategory, positiveNegative, both},
		{"nothilfe", "Nothilfe", nrvCategory, positiveNegative, both},
		{"rebap", "reBAP", nrvCategory, fixed(numbers("reBAP unterdeckt", "reBAP ueberdeckt")...), assured},
		{"aep_module", "AEPModule", nrvCategory, fixed(numbers("AEP Modul 1", "AEP Modul 2", "AEP Modul 3")...), assured},
		{"finanzielle_wirkung_aep_module", "FinanzielleWirkungAEPModule", nrvCategory,
			fixed(numbers("AEP Modul 1", "AEP Modul 2", "AEP Modul 3")...), assured},
		{"voaa", "VoAA", nrvCategory, fixed(numbers("VoAA (Positiv)", "VoAA (Negativ)")...), assured},
		{"aep_schaetzer", "AepSchaetzer", nrvCategory,
			fixed(payload.Column{Raw: "AEP-Schätzer", Kind: payload.Number}, payload.Column{Raw: "Status", Kind: payload.Text}), operational},
		{"mrl_mol_abweichungen", "MrlMolAbweichungen", nrvCategory,
			fixed(numbers("Netzengpass", "Technische Störung Abrufsystem", "Technische Störung Anbieter", "Test Aktivierung")...), operational},
	}
}

func srlMolAbweichungen() Descriptor {
	return Descriptor{
		Name: "nrvsaldo_srl_mol_abweichungen_betrieblich",
		Path: "NrvSaldo/SrlMolAbweichungen/Betrieblich",
		Schema: payload.Schema{
			Columns: concat([]payload.Column{
				{Raw: "Datum von", Kind: payload.Date},
				{Raw: "Zeitzone von", Kind: payload.Zone},
				{Raw: "Uhrzeit von", Kind: payload.Time},
				{Raw: "Datum bis", Kind: payload.Date},
				{Raw: "Zeitzone bis", Kind: payload.Zone},
				{Raw: "Uhrzeit bis", Kind: payload.Time},
				{Raw: "Datenkategorie", Kind: payload.Text},
				{Raw: "Datentyp", Kind: payload.Text},
				{Raw: "Abruf-ÜNB", Kind: payload.Text},
			}, numbers("Störung in der MOL-Verarbeitung", "Trennung von SRL-Kooperation", "Sonstiges")),
			Policy: payload.FormatPolicy{DateLayout: payload.GermanDate},
		},
		Von: &materialize.Instant{Name: "von", Date: "Datum von", Time: "Uhrzeit von", Zone: "Zeitzone von"},
		Bis: &materialize.Instant{Name: "bis", Date: "Datum bis", Time: "Uhrzeit bis", Zone: "Zeitzone bis"},
	}
}

func idAep() Descriptor {
	return Descriptor{
		Name: "id_aep",
		Path: "IdAep",
		Schema: payload.Schema{
			Columns: []payload.Column{
				{Raw: "Datum von", Kind: payload.Date},
				{Raw: "(Uhrzeit) von", Kind: payload.Time},
				{Raw: "Zeitzone", Kind: payload.Zone},
				{Raw: "(Uhrzeit) bis", Kind: payload.Time},
				{Raw: "Zeitzone.1", Kind: payload.Zone},
				{Raw: "ID AEP in €/MWh", Kind: payload.Number},
			},
			Policy: payload.FormatPolicy{DateLayout: payload.ISODate},
		},
		Von: &materialize.Instant{Name: "von", Date: "Datum von", Time: "(Uhrzeit) von", Zone: "Zeitzone"},
		Bis: &materialize.Instant{Name: "bis", Date: "Datum von", Time: "(Uhrzeit) bis", Zone: "Zeitzone.1"},
	}
}

func marktpraemie() Descriptor {
	text := func(names ...string) []payload.Column {
		out := make([]payload.Column, len(names))
		for i, n := range names {
			out[i] = payload.Column{Raw: n, Kind: payload.Text}
		}
		return out
	}
	return Descriptor{
		Name: Marktpraemie,
		Path: "marktpraemie",
		Mode: Window,
		Schema: payload.Schema{
			Columns: concat(
				text("Monat"),
				numbers("MW-EPEX in ct/kWh", "MW Wind Onshore in ct/kWh", "PM Wind Onshore fernsteuerbar in ct/kWh",
					"MW Wind Offshore in ct/kWh", "PM Wind Offshore fernsteuerbar in ct/kWh", "MW Solar in ct/kWh",
					"PM Solar fernsteuerbar in ct/kWh", "MW steuerbar in ct/kWh", "PM steuerbar in ct/kWh"),
				optional(text("Negative Stunden (6H)", "Negative Stunden (4H)", "Negative Stunden (3H)",
					"Negative Stunden (1H)", "Negative Stunden (15MIN)")...),
			),
		},
	}
}

// Default returns a registry with every endpoint family of the netztransparenz data service.
func Default() *Registry {
	r := NewRegistry()
	var all []Descriptor

	mw := numbers(perTSO(" (MW)")...)
	for _, kind := range []string{"Solar", "Wind"} {
		all = append(all, splitZone("hochrechnung_"+strings.ToLower(kind), "hochrechnung/"+kind, payload.ISODate, mw))
		p := splitZone("prognose_"+strings.ToLower(kind), "prognose/"+kind, payload.ISODate, mw)
		p.Forecast = true
		all = append(all, p)
	}
	for _, kind := range []string{"Windonshore", "Windoffshore", "Solar"} {
		all = append(all, splitZone("online_hochrechnung_"+strings.ToLower(kind), "OnlineHochrechnung/"+kind, payload.ISODate, mw))
	}

	for name, path := range map[string]string{
		"differenz_einspeiseprognose": "DifferenzEinspeiseprognose",
		"untertaegige_strommengen":    "UntertaegigeStrommengen",
		"epex":                        "VermarktungEpex",
		"exaa":                        "VermarktungExaa",
		"solar":                       "VermarktungsSolar",
		"wind":                        "VermarktungsWind",
		"sonstige":                    "VermarktungsSonstige",
	} {
		all = append(all, splitZone("vermarktung_"+name, "vermarktung/"+path, payload.ISODate, mw))
	}
	all = append(all, splitZone("vermarktung_inanspruchnahme_ausgleichsenergie",
		"vermarktung/InanspruchnahmeAusgleichsenergie", payload.ISODate, numbers(perTSO(" (kWh)")...)))

	all = append(all, splitZone("spotmarktpreise", "Spotmarktpreise", payload.GermanDate, numbers("Spotmarktpreis in ct/kWh")))
	all = append(all, Descriptor{
		Name:   "negative_preise",
		Path:   "NegativePreise",
		Schema: payload.Schema{Columns: concat([]payload.Column{{Raw: "Datum", Kind: payload.DateTime}}, numbers("Stunde1", "Stunde3", "Stunde4", "Stunde6"))},
	})
	for suffix, path := range map[string]string{"1h": "1", "3h": "3", "4h": "4", "6h": "6", "15m": "15"} {
		all = append(all, negativePrices("negative_preise_"+suffix, "NegativePreise/"+path))
	}
	all = append(all, idAep())

	all = append(all,
		redispatchStyle("redispatch", "redispatch"),
		redispatchStyle("kapazitaetsreserve", "Kapazitaetsreserve"),
		redispatchStyle("vorhaltung_krd", "VorhaltungkRD"),
		absm("ausgewiesene_absm", "AusgewieseneABSM"),
		absm("zugeteilte_absm", "ZugeteilteABSM"),
	)

	for _, f := range nrvFamilies() {
		for _, q := range f.quality {
			all = append(all, sharedZone("nrvsaldo_"+f.key+"_"+q, "NrvSaldo/"+f.path+"/"+qualityPath[q], f.category(), f.values()))
		}
	}
	all = append(all, srlMolAbweichungen())

	all = append(all, Descriptor{
		Name: TrafficLight,
		Path: "TrafficLight",
		Schema: payload.Schema{
			Layout: payload.LayoutJSON,
			Columns: []payload.Column{
				{Raw: "From", Kind: payload.Timestamp},
				{Raw: "To", Kind: payload.Timestamp},
				{Raw: "Value", Kind: payload.Text},
			},
		},
	})
	all = append(all, Descriptor{
		Name:      Jahresmarktpraemie,
		Path:      "Jahresmarktpraemie",
		Mode:      Static,
		Transpose: true,
		Schema: payload.Schema{
			Columns: []payload.Column{{Raw: "Alle Werte in ct/kWh", Kind: payload.Text}},
			Extra:   &payload.Column{Kind: payload.Number},
		},
	})
	all = append(all, marktpraemie())

	for _, d := range all {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}
