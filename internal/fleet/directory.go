package fleet

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ukydev/fleet-dispatch/internal/models"
)

// Directory holds the static reference lists used to validate and label
// checkout operations.
type Directory struct {
	Personnel []models.PersonnelEntry `yaml:"personnel" json:"personnel"`
	Zones     []string                `yaml:"zones" json:"zones"`
}

// DefaultDirectory returns the built-in personnel and zone lists. The default
// return zone is always the first zone.
func DefaultDirectory(returnZone string) *Directory {
	zones := append([]string{returnZone}, defaultZones...)
	return &Directory{
		Personnel: append([]models.PersonnelEntry(nil), defaultPersonnel...),
		Zones:     zones,
	}
}

// LoadDirectory reads a YAML directory file. Missing sections fall back to the
// built-in lists.
func LoadDirectory(path, returnZone string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}

	var dir Directory
	if err := yaml.Unmarshal(data, &dir); err != nil {
		return nil, fmt.Errorf("failed to parse directory file: %w", err)
	}

	def := DefaultDirectory(returnZone)
	if len(dir.Personnel) == 0 {
		dir.Personnel = def.Personnel
	}
	if len(dir.Zones) == 0 {
		dir.Zones = def.Zones
	}
	return &dir, nil
}

// LookupPersonnel finds a registry user by ID.
func (d *Directory) LookupPersonnel(id string) (models.PersonnelEntry, bool) {
	for _, p := range d.Personnel {
		if p.ID == id {
			return p, true
		}
	}
	return models.PersonnelEntry{}, false
}

// RegistryLabel is the responsible-party label for a directory user.
func RegistryLabel(p models.PersonnelEntry) string {
	return fmt.Sprintf("%s - %s", p.ID, p.Name)
}

// FreelanceLabel is the responsible-party label for someone outside the directory.
func FreelanceLabel(name, id string) string {
	return fmt.Sprintf("FREELANCE - %s (ID: %s)", name, id)
}

var defaultZones = []string{
	"Combo Capilla (terraza, jardín, playa)",
	"Combo Tucán (terraza, jardín, playa)",
	"Combo Buganvilias (terraza, jardín, playa)",
	"Playa Delfines",
	"Playa The Grand",
	"Terraza Caribeño",
	"Playa Fragata",
	"Lake Terrace",
	"Terraza Cusco",
	"Arena Ballroom",
	"Combo Galactic-Stars-Otros",
	"Expo Center",
	"The Grand Ballroom",
	"Tortugas-Nizuc",
	"Moonlight terrace",
	"Playa Dunes",
}

var defaultPersonnel = []models.PersonnelEntry{
	{ID: "006111", Name: "CRUZ CRUZ, FELIPE"},
	{ID: "069686", Name: "GARCIA LOPEZ, GONZALO"},
	{ID: "087561", Name: "MANJARREZ ZAVALA, LUIS ARMANDO"},
	{ID: "089509", Name: "VILLEGAS DIAZ, ERIK FRANCISCO"},
	{ID: "089701", Name: "BONILLA SANCHEZ, JORGE"},
	{ID: "089727", Name: "MARTINEZ MONJARAZ, TOMAS DAVID"},
	{ID: "090870", Name: "BAUTISTA GUERRERO, MANUEL"},
	{ID: "091258", Name: "MAAS TUZ, ALFREDO EMANUEL"},
	{ID: "091356", Name: "POLANCO BALAM, HECTOR RODRIGO"},
	{ID: "091918", Name: "RUIZ VELAZQUEZ, CHRISTIAN GERMAN"},
	{ID: "093766", Name: "KOH PUC, GUSTAVO GASPAR"},
	{ID: "094450", Name: "CHAPA GARCIA, ALEJANDRO"},
	{ID: "094869", Name: "OLAN RODRIGUEZ, JUAN JOSE"},
	{ID: "096950", Name: "CIAU CAN, LEONARDO MANUEL"},
	{ID: "101270", Name: "REYES ROSAS, ELIUT JONATAN"},
	{ID: "101358", Name: "OSORIO RESENDIZ, MARIA LUISA"},
	{ID: "101515", Name: "CUTIZ UCAN, DANIEL SALVADOR"},
	{ID: "103011", Name: "RAMOS SANCHEZ, JUAN AGUSTIN"},
	{ID: "103588", Name: "MONTES DE OCA VARGAS, ARMANDO"},
	{ID: "103978", Name: "IZAZIGA RODRIGUEZ, KAREN AIDA"},
	{ID: "103987", Name: "CHAN SUNZA, RICHARD ENRIQUE"},
	{ID: "105082", Name: "CAMACHO ITURRALDE, LUIS ANTONIO"},
	{ID: "105761", Name: "UC SALAZAR, JOSE ANGEL"},
	{ID: "106606", Name: "VALADES GOMEZ, JESUS ANTONIO"},
	{ID: "113299", Name: "ALCOCER ABAN, FERNANDO JOSE"},
	{ID: "113481", Name: "TUN GRAJALES, ALFREDO MICHEL"},
	{ID: "113681", Name: "NOVELO PARDENILLA, WILMER ABDIEL"},
	{ID: "114390", Name: "ZEMPOALTECATL ACATECATL, MANUEL"},
	{ID: "115239", Name: "TUZ MOO, RICARDO"},
	{ID: "115356", Name: "DOMINGUEZ ARCE, ANDREA"},
	{ID: "115931", Name: "ORTIZ GONZALEZ, DIANA CECILIA"},
	{ID: "117482", Name: "ROSAS GARCIA, JORGE EMILIO"},
	{ID: "117626", Name: "AGUILAR SALAZAR, MARIA FERNANDA"},
	{ID: "119683", Name: "MONTORO DELGADO, CESAR"},
	{ID: "119867", Name: "SANCHEZ SANCHEZ, JARED BORGETTI"},
	{ID: "119877", Name: "CARREON TORRES, JOSE JORGE"},
	{ID: "120036", Name: "COHUO CEN, SARAI DE LOS ANGELES"},
	{ID: "120896", Name: "GOMEZ RANGEL, BRYAN URIEL"},
	{ID: "000258", Name: "VENTURA MARTINEZ, ARMANDO"},
	{ID: "017653", Name: "BALAM TORRES, JORGE ALBERTO"},
	{ID: "087809", Name: "ALMAGUER LOPEZ, DANIEL ALEJANDRO"},
	{ID: "114740", Name: "HUCHIN CEN, MELCHOR ANTONIO"},
}
