// Package category defines the legal domain taxonomy used across the
// knowledge store, the classifier and the consultation pipeline.
package category

// Category identifies a legal domain. The zero value is not a valid
// category; use Uncategorized for questions no domain profile matches.
type Category string

const (
	CivilLaw             Category = "civil_law"
	CriminalLaw          Category = "criminal_law"
	AdministrativeLaw    Category = "administrative_law"
	CommercialLaw        Category = "commercial_law"
	LaborLaw             Category = "labor_law"
	IntellectualProperty Category = "intellectual_property"
	InternationalLaw     Category = "international_law"
	EnvironmentalLaw     Category = "environmental_law"

	// Uncategorized is the classifier fallback. It is valid for
	// consultations but not for knowledge entries.
	Uncategorized Category = "uncategorized"
)

// Info carries the display metadata for a category.
type Info struct {
	ID          Category `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
}

var infos = []Info{
	{CivilLaw, "民事法律", "合同、侵权、婚姻家庭、继承、物权、债权等民事法律事务"},
	{CriminalLaw, "刑事法律", "犯罪构成、刑罚适用、刑事诉讼等刑事法律事务"},
	{AdministrativeLaw, "行政法律", "行政处罚、行政许可、行政复议、行政诉讼等行政法律事务"},
	{CommercialLaw, "商事法律", "公司设立运营、股权、证券、破产清算等商事法律事务"},
	{LaborLaw, "劳动法律", "劳动合同、社会保险、工伤赔偿、劳动争议等劳动法律事务"},
	{IntellectualProperty, "知识产权", "专利、商标、著作权、商业秘密等知识产权法律事务"},
	{InternationalLaw, "国际法律", "国际贸易、涉外合同、国际争端解决等涉外法律事务"},
	{EnvironmentalLaw, "环境法律", "环境污染、生态保护、环境影响评价等环境法律事务"},
}

// All returns the taxonomy in its canonical order. Uncategorized is not
// part of the taxonomy and is therefore not listed.
func All() []Info {
	out := make([]Info, len(infos))
	copy(out, infos)
	return out
}

// Valid reports whether c is a taxonomy category.
func Valid(c Category) bool {
	for _, in := range infos {
		if in.ID == c {
			return true
		}
	}
	return false
}

// ValidOrUncategorized reports whether c is a taxonomy category or the
// Uncategorized fallback.
func ValidOrUncategorized(c Category) bool {
	return c == Uncategorized || Valid(c)
}

// Name returns the Chinese display name for c, or the raw identifier
// when c is unknown.
func Name(c Category) string {
	if c == Uncategorized {
		return "未分类"
	}
	for _, in := range infos {
		if in.ID == c {
			return in.Name
		}
	}
	return string(c)
}
