package trigger

import (
	"fmt"
	"strings"
	"time"
)

// Triggers is the static function table the schema document binds against.
// Names match the YAML; adding a binding there without an entry here fails
// engine construction.
func Triggers() map[string]Func {
	return map[string]Func{
		// identity and bookkeeping
		"set_timestamp":        setTimestamp,
		"set_entity_type":      setEntityType,
		"set_user_sub":         setUserSub,
		"set_user_email":       setUserEmail,
		"set_user_displayname": setUserDisplayName,
		"set_uuid":             adoptMintedValue,
		"set_hubmap_id":        adoptMintedValue,
		"set_submission_id":    adoptMintedValue,
		"set_group_uuid":       setGroupUUID,
		"set_group_name":       setGroupName,

		// dataset state
		"set_dataset_status_new":       setDatasetStatusNew,
		"set_data_access_level":        setDataAccessLevel,
		"set_local_directory_rel_path": setLocalDirectoryRelPath,
		"set_creation_action":          setCreationAction,

		// provenance linkage
		"link_to_direct_ancestors":                  linkToDirectAncestors,
		"link_to_direct_ancestor":                   linkToDirectAncestor,
		"link_donor_to_lab":                         linkDonorToLab,
		"link_to_previous_revision":                 linkToPreviousRevision,
		"link_collection_to_datasets":               linkCollectionToDatasets,
		"link_upload_to_datasets":                   linkUploadToDatasets,
		"link_publication_to_associated_collection": linkPublicationToAssociatedCollection,

		// read-time enrichment
		"get_previous_revision_uuid":            getPreviousRevisionUUID,
		"get_next_revision_uuid":                getNextRevisionUUID,
		"get_creation_action":                   getCreationAction,
		"get_dataset_direct_ancestors":          getDatasetDirectAncestors,
		"get_sample_direct_ancestor":            getSampleDirectAncestor,
		"get_collection_datasets":               getCollectionDatasets,
		"get_upload_datasets":                   getUploadDatasets,
		"get_dataset_collections":               getDatasetCollections,
		"get_dataset_upload":                    getDatasetUpload,
		"get_publication_associated_collection": getPublicationAssociatedCollection,
		"get_dataset_title":                     getDatasetTitle,
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func stringValue(m map[string]any, key string) (string, bool) {
	raw, ok := m[key]
	if !ok {
		return "", false
	}
	str, ok := raw.(string)
	if !ok || strings.TrimSpace(str) == "" {
		return "", false
	}
	return str, true
}

// requireMergedString fails the whole operation when a key a trigger depends
// on is absent; missing inputs are never silently skipped.
func requireMergedString(inv *Invocation, key string) (string, error) {
	value, ok := stringValue(inv.Merged, key)
	if !ok {
		return "", fmt.Errorf("required key %q missing from working record", key)
	}
	return value, nil
}

func stringList(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok && str != "" {
				out = append(out, str)
			}
		}
		return out
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

func asBool(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return false
}
