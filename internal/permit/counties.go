package permit

import (
	"regexp"
	"strings"
)

// Counties is the canonical list of the 254 Texas counties, uppercase in
// published order.
var Counties = []string{
	"ANDERSON", "ANDREWS", "ANGELINA", "ARANSAS", "ARCHER", "ARMSTRONG", "ATASCOSA",
	"AUSTIN", "BAILEY", "BANDERA", "BASTROP", "BAYLOR", "BEE", "BELL", "BEXAR", "BLANCO",
	"BORDEN", "BOSQUE", "BOWIE", "BRAZORIA", "BRAZOS", "BREWSTER", "BRISCOE", "BROOKS",
	"BROWN", "BURLESON", "BURNET", "CALDWELL", "CALHOUN", "CALLAHAN", "CAMERON", "CAMP",
	"CARSON", "CASS", "CASTRO", "CHAMBERS", "CHEROKEE", "CHILDRESS", "CLAY", "COCHRAN",
	"COKE", "COLEMAN", "COLLIN", "COLLINGSWORTH", "COLORADO", "COMAL", "COMANCHE",
	"CONCHO", "COOKE", "CORYELL", "COTTLE", "CRANE", "CROCKETT", "CROSBY", "CULBERSON",
	"DALLAM", "DALLAS", "DAWSON", "DEAF SMITH", "DELTA", "DENTON", "DE WITT", "DICKENS",
	"DIMMIT", "DONLEY", "DUVAL", "EASTLAND", "ECTOR", "EDWARDS", "EL PASO", "ELLIS",
	"ERATH", "FALLS", "FANNIN", "FAYETTE", "FISHER", "FLOYD", "FOARD", "FORT BEND",
	"FRANKLIN", "FREESTONE", "FRIO", "GAINES", "GALVESTON", "GARZA", "GILLESPIE",
	"GLASSCOCK", "GOLIAD", "GONZALES", "GRAY", "GRAYSON", "GREGG", "GRIMES", "GUADALUPE",
	"HALE", "HALL", "HAMILTON", "HANSFORD", "HARDEMAN", "HARDIN", "HARRIS", "HARRISON",
	"HARTLEY", "HASKELL", "HAYS", "HEMPHILL", "HENDERSON", "HIDALGO", "HILL", "HOCKLEY",
	"HOOD", "HOPKINS", "HOUSTON", "HOWARD", "HUDSPETH", "HUNT", "HUTCHINSON", "IRION",
	"JACK", "JACKSON", "JASPER", "JEFF DAVIS", "JEFFERSON", "JIM HOGG", "JIM WELLS",
	"JOHNSON", "JONES", "KARNES", "KAUFMAN", "KENDALL", "KENEDY", "KENT", "KERR",
	"KIMBLE", "KING", "KINNEY", "KLEBERG", "KNOX", "LA SALLE", "LAMAR", "LAMB",
	"LAMPASAS", "LAVACA", "LEE", "LEON", "LIBERTY", "LIMESTONE", "LIPSCOMB", "LIVE OAK",
	"LLANO", "LOVING", "LUBBOCK", "LYNN", "MADISON", "MARION", "MARTIN", "MASON",
	"MATAGORDA", "MAVERICK", "MCCULLOCH", "MCLENNAN", "MCMULLEN", "MEDINA", "MENARD",
	"MIDLAND", "MILAM", "MILLS", "MITCHELL", "MONTAGUE", "MONTGOMERY", "MOORE", "MORRIS",
	"MOTLEY", "NACOGDOCHES", "NAVARRO", "NEWTON", "NOLAN", "NUECES", "OCHILTREE",
	"OLDHAM", "ORANGE", "PALO PINTO", "PANOLA", "PARKER", "PARMER", "PECOS", "POLK",
	"POTTER", "PRESIDIO", "RAINS", "RANDALL", "REAGAN", "REAL", "RED RIVER", "REEVES",
	"REFUGIO", "ROBERTS", "ROBERTSON", "ROCKWALL", "RUNNELS", "RUSK", "SABINE",
	"SAN AUGUSTINE", "SAN JACINTO", "SAN PATRICIO", "SAN SABA", "SCHLEICHER", "SCURRY",
	"SHACKELFORD", "SHELBY", "SHERMAN", "SMITH", "SOMERVELL", "STARR", "STEPHENS",
	"STERLING", "STONEWALL", "SUTTON", "SWISHER", "TARRANT", "TAYLOR", "TERRELL", "TERRY",
	"THROCKMORTON", "TITUS", "TOM GREEN", "TRAVIS", "TRINITY", "TYLER", "UPSHUR", "UPTON",
	"UVALDE", "VAL VERDE", "VAN ZANDT", "VICTORIA", "WALKER", "WALLER", "WARD",
	"WASHINGTON", "WEBB", "WHARTON", "WHEELER", "WICHITA", "WILBARGER", "WILLACY",
	"WILLIAMSON", "WILSON", "WINKLER", "WISE", "WOOD", "YOAKUM", "YOUNG", "ZAPATA",
	"ZAVALA",
}

var (
	countySet       = make(map[string]string, len(Counties))
	countySuffix    = regexp.MustCompile(`(?i)\s*\bcounty\s*$`)
	collapseSpacing = regexp.MustCompile(`\s+`)
)

func init() {
	for _, name := range Counties {
		countySet[name] = name
		countySet[strings.ReplaceAll(name, " ", "")] = name
	}
}

// CanonicalCounty resolves name to its canonical spelling. Matching ignores case
// and internal spacing, so "DeWitt" resolves to "DE WITT". A trailing "County"
// is ignored.
func CanonicalCounty(name string) (string, bool) {
	key := strings.TrimSpace(collapseSpacing.ReplaceAllString(name, " "))
	key = strings.ToUpper(strings.TrimSpace(countySuffix.ReplaceAllString(key, "")))
	if canonical, ok := countySet[key]; ok {
		return canonical, true
	}
	canonical, ok := countySet[strings.ReplaceAll(key, " ", "")]
	return canonical, ok
}

// NormalizeCounty cleans raw cell text into a canonical county name. A trailing
// "County" suffix is dropped and the result uppercased. Text that does not match
// the canonical list is returned cleaned; empty text becomes UnknownCounty.
func NormalizeCounty(raw string) string {
	cleaned := strings.TrimSpace(collapseSpacing.ReplaceAllString(raw, " "))
	cleaned = strings.TrimSpace(countySuffix.ReplaceAllString(cleaned, ""))
	cleaned = strings.ToUpper(strings.Trim(cleaned, ",.;:"))
	if cleaned == "" {
		return UnknownCounty
	}
	if canonical, ok := CanonicalCounty(cleaned); ok {
		return canonical
	}
	return cleaned
}
