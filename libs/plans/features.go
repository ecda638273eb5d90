package plans

import "strings"

// Feature is a gated capability.
type Feature string

const (
	FeatureChat                Feature = "chat"
	FeatureSMS                 Feature = "sms"
	FeatureFileUploadChat      Feature = "file_upload_chat"
	FeatureInventory           Feature = "inventory"
	FeatureAPIAccess           Feature = "api_access"
	FeatureMultipleWorkshops   Feature = "multiple_workshops"
	FeatureAdvancedAnalytics   Feature = "advanced_analytics"
	FeatureCustomBrandingBasic Feature = "custom_branding_basic"
	FeatureCustomBrandingFull  Feature = "custom_branding_full"
)

// AllFeatures lists every gated capability in display order.
var AllFeatures = []Feature{
	FeatureChat,
	FeatureSMS,
	FeatureFileUploadChat,
	FeatureInventory,
	FeatureAPIAccess,
	FeatureMultipleWorkshops,
	FeatureAdvancedAnalytics,
	FeatureCustomBrandingBasic,
	FeatureCustomBrandingFull,
}

// ParseFeature returns the feature named by raw and whether it is known.
func ParseFeature(raw string) (Feature, bool) {
	f := Feature(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllFeatures {
		if f == known {
			return f, true
		}
	}
	return "", false
}

// Each tier's grants include everything granted to the tiers below it.
var (
	starterGrants = []Feature{FeatureChat, FeatureFileUploadChat, FeatureCustomBrandingBasic}
	proGrants     = append(append([]Feature{}, starterGrants...), FeatureSMS, FeatureInventory, FeatureAdvancedAnalytics)
	entGrants     = append(append([]Feature{}, proGrants...), FeatureAPIAccess, FeatureMultipleWorkshops, FeatureCustomBrandingFull)
)

var featureTable = map[Plan]map[Feature]bool{
	Free:       {},
	Starter:    grantSet(starterGrants),
	Pro:        grantSet(proGrants),
	Enterprise: grantSet(entGrants),
}

func grantSet(features []Feature) map[Feature]bool {
	out := make(map[Feature]bool, len(features))
	for _, f := range features {
		out[f] = true
	}
	return out
}

// HasAccess is fail-closed: an unknown plan or feature is denied.
func HasAccess(plan Plan, feature Feature) bool {
	grants, ok := featureTable[plan]
	if !ok {
		return false
	}
	return grants[feature]
}

// Features returns the grant map for plan over every known feature.
func Features(plan Plan) map[Feature]bool {
	out := make(map[Feature]bool, len(AllFeatures))
	for _, f := range AllFeatures {
		out[f] = HasAccess(plan, f)
	}
	return out
}
