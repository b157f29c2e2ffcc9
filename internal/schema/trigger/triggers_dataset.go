package trigger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hubmapconsortium/entity-api/internal/graph"
	"github.com/hubmapconsortium/entity-api/internal/schema"
)

func setDatasetStatusNew(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	return &Result{Value: schema.StatusNew}, nil
}

// setDataAccessLevel computes data_access_level on create and recomputes it
// on every update (the binding is auto_update).
//
// Datasets: Published means public; otherwise protected when the data
// contains human genetic sequences, else consortium. Donors and samples go
// public once any descendant dataset is published.
func setDataAccessLevel(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	isDataset, err := deps.Registry.InstanceOf(ctx, inv.EntityType, schema.TypeDataset)
	if err != nil {
		return nil, err
	}
	if isDataset {
		if status, _ := stringValue(inv.Merged, schema.KeyStatus); status == schema.StatusPublished {
			return &Result{Value: schema.AccessLevelPublic}, nil
		}
		raw, present := inv.Merged["contains_human_genetic_sequences"]
		if !present {
			return nil, fmt.Errorf("required key %q missing from working record", "contains_human_genetic_sequences")
		}
		if asBool(raw) {
			return &Result{Value: schema.AccessLevelProtected}, nil
		}
		return &Result{Value: schema.AccessLevelConsortium}, nil
	}

	// Donor / Sample
	uuid, err := requireMergedString(inv, schema.KeyUUID)
	if err != nil {
		return nil, err
	}
	published, err := deps.Store.CountPublishedDescendantDatasets(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if published > 0 {
		return &Result{Value: schema.AccessLevelPublic}, nil
	}
	return &Result{Value: schema.AccessLevelConsortium}, nil
}

// setLocalDirectoryRelPath derives the filesystem location of an entity's
// data relative to the assets root: <access_level>/<group_name>/<uuid>/.
func setLocalDirectoryRelPath(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	accessLevel, err := requireMergedString(inv, schema.KeyDataAccessLevel)
	if err != nil {
		return nil, err
	}
	groupName, err := requireMergedString(inv, schema.KeyGroupName)
	if err != nil {
		return nil, err
	}
	uuid, err := requireMergedString(inv, schema.KeyUUID)
	if err != nil {
		return nil, err
	}
	return &Result{Value: fmt.Sprintf("%s/%s/%s/", accessLevel, groupName, uuid)}, nil
}

func setCreationAction(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	return &Result{Value: fmt.Sprintf("Create %s Activity", schema.NormalizeEntityType(inv.EntityType))}, nil
}

// Distinct organ or donor counts above this collapse into a "multiple"
// phrase instead of an unreadable enumeration.
const maxDistinctInTitle = 5

// getDatasetTitle composes the human-readable dataset title from the data
// type and the organ and donor ancestry.
func getDatasetTitle(ctx context.Context, deps *Deps, inv *Invocation) (*Result, error) {
	uuid, err := requireMergedString(inv, schema.KeyUUID)
	if err != nil {
		return nil, err
	}
	dataType, _ := stringValue(inv.Merged, "dataset_type")
	if dataType == "" {
		dataType = "Unknown"
	}

	ancestors, err := deps.Store.GetAncestors(ctx, uuid, graph.LineageOptions{})
	if err != nil {
		return nil, err
	}

	organSet := map[string]bool{}
	var donors []map[string]any
	for _, ancestor := range ancestors {
		switch ancestor["entity_type"] {
		case schema.TypeSample:
			if category, _ := ancestor["sample_category"].(string); strings.EqualFold(category, "organ") {
				if organ, _ := ancestor["organ"].(string); organ != "" {
					organSet[organName(organ)] = true
				}
			}
		case schema.TypeDonor:
			donors = append(donors, ancestor)
		}
	}

	title := fmt.Sprintf("%s data from the %s of %s", dataType, organPhrase(organSet), donorPhrase(donors))
	return &Result{Value: title}, nil
}

func organPhrase(organs map[string]bool) string {
	names := make([]string, 0, len(organs))
	for name := range organs {
		names = append(names, name)
	}
	sort.Strings(names)
	switch {
	case len(names) == 0:
		return "unknown organ"
	case len(names) == 1:
		return names[0]
	case len(names) == 2:
		return names[0] + " and " + names[1]
	case len(names) <= maxDistinctInTitle:
		return strings.Join(names[:len(names)-1], ", ") + ", and " + names[len(names)-1]
	default:
		return "multiple organs"
	}
}

func donorPhrase(donors []map[string]any) string {
	switch {
	case len(donors) == 0:
		return "an unknown donor"
	case len(donors) == 1:
		return describeDonor(donors[0])
	case len(donors) <= maxDistinctInTitle:
		return fmt.Sprintf("%d separate donors", len(donors))
	default:
		return "multiple donors"
	}
}

// describeDonor phrases one donor as "a 45-year-old white female donor",
// dropping whichever demographic fields are absent.
func describeDonor(donor map[string]any) string {
	age, _ := donor["age"].(string)
	race, _ := donor["race"].(string)
	sex, _ := donor["sex"].(string)

	var parts []string
	if age != "" {
		parts = append(parts, age+"-year-old")
	}
	if race != "" {
		parts = append(parts, strings.ToLower(race))
	}
	if sex != "" {
		parts = append(parts, strings.ToLower(sex))
	}
	if len(parts) == 0 {
		return "a donor of unknown age, race and sex"
	}
	phrase := strings.Join(parts, " ") + " donor"
	if strings.ContainsAny(phrase[:1], "aeiou") {
		return "an " + phrase
	}
	return "a " + phrase
}

// organName maps a two-letter organ code to its display name; unknown codes
// pass through so new organs never break title generation.
func organName(code string) string {
	names := map[string]string{
		"BL": "bladder",
		"BR": "brain",
		"HT": "heart",
		"LK": "left kidney",
		"RK": "right kidney",
		"LI": "large intestine",
		"SI": "small intestine",
		"LL": "left lung",
		"RL": "right lung",
		"LV": "liver",
		"LY": "lymph node",
		"SP": "spleen",
		"SK": "skin",
		"TH": "thymus",
		"UR": "ureter",
	}
	if name, ok := names[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return name
	}
	return code
}
